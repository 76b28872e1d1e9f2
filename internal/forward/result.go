package forward

import (
	"fmt"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Kind classifies a failed outcome.
type Kind string

const (
	KindNone                Kind = ""
	ToolNotInstalled        Kind = "ToolNotInstalled"
	AlreadyForwarded        Kind = "AlreadyForwarded"
	NotForwarded            Kind = "NotForwarded"
	StartVerificationFailed Kind = "StartVerificationFailed"
	StopVerificationFailed  Kind = "StopVerificationFailed"
	ConfigValidationFailed  Kind = "ConfigValidationFailed"
	CommandTimeout          Kind = "CommandTimeout"
	CommandFailed           Kind = "CommandFailed"
	PartialBatchFailure     Kind = "PartialBatchFailure"
	InvalidRule             Kind = "InvalidRule"
	StatePersistFailed      Kind = "StatePersistFailed"
	ModeDisabled            Kind = "ModeDisabled"
)

// Sentinels for errors.Is matching against Result.Err.
var (
	ErrToolNotInstalled        = &Error{Kind: ToolNotInstalled}
	ErrAlreadyForwarded        = &Error{Kind: AlreadyForwarded}
	ErrNotForwarded            = &Error{Kind: NotForwarded}
	ErrStartVerificationFailed = &Error{Kind: StartVerificationFailed}
	ErrStopVerificationFailed  = &Error{Kind: StopVerificationFailed}
	ErrConfigValidationFailed  = &Error{Kind: ConfigValidationFailed}
	ErrCommandTimeout          = &Error{Kind: CommandTimeout}
	ErrCommandFailed           = &Error{Kind: CommandFailed}
	ErrPartialBatchFailure     = &Error{Kind: PartialBatchFailure}
	ErrInvalidRule             = &Error{Kind: InvalidRule}
	ErrStatePersistFailed      = &Error{Kind: StatePersistFailed}
	ErrModeDisabled            = &Error{Kind: ModeDisabled}
)

// Error is the error form of a failed Result.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Result is the outcome of one operation: a success flag plus a
// human-readable diagnostic.
type Result struct {
	Success bool   `yaml:"success" json:"success"`
	Kind    Kind   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Message string `yaml:"message" json:"message"`
}

// OK builds a successful Result.
func OK(format string, args ...interface{}) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Fail builds a failed Result of the given kind.
func Fail(kind Kind, format string, args ...interface{}) Result {
	return Result{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Err returns nil for a successful Result and an *Error otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Message}
}

// Is reports whether the result failed with the given kind.
func (r Result) Is(kind Kind) bool {
	return !r.Success && r.Kind == kind
}

// ItemResult is the outcome for one port of a batch.
type ItemResult struct {
	Port   int    `yaml:"port" json:"port"`
	Result Result `yaml:"result" json:"result"`
}

// BatchResult collects per-item outcomes of a sequential batch. A failure on
// one item never stops processing of the rest.
type BatchResult struct {
	Items []ItemResult `yaml:"items" json:"items"`
}

// Add records the outcome for port.
func (b *BatchResult) Add(port int, r Result) {
	b.Items = append(b.Items, ItemResult{Port: port, Result: r})
}

// Merge appends the items of other.
func (b *BatchResult) Merge(other BatchResult) {
	b.Items = append(b.Items, other.Items...)
}

// Succeeded counts successful items.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, it := range b.Items {
		if it.Result.Success {
			n++
		}
	}
	return n
}

// Failed counts failed items.
func (b BatchResult) Failed() int {
	return len(b.Items) - b.Succeeded()
}

// SucceededPorts lists the ports whose item succeeded, in batch order.
func (b BatchResult) SucceededPorts() []int {
	var ports []int
	for _, it := range b.Items {
		if it.Result.Success {
			ports = append(ports, it.Port)
		}
	}
	return ports
}

// Result folds the batch into one Result. Mixed outcomes yield
// PartialBatchFailure; a batch where every item failed with the same kind
// keeps that kind.
func (b BatchResult) Result() Result {
	if len(b.Items) == 0 {
		return OK("nothing to do")
	}

	lines := make([]string, 0, len(b.Items)+1)
	kinds := map[Kind]struct{}{}
	for _, it := range b.Items {
		mark := "ok"
		if !it.Result.Success {
			mark = "failed"
			kinds[it.Result.Kind] = struct{}{}
		}
		lines = append(lines, fmt.Sprintf("port %d: %s: %s", it.Port, mark, it.Result.Message))
	}
	ok, failed := b.Succeeded(), b.Failed()
	lines = append(lines, fmt.Sprintf("%d succeeded, %d failed", ok, failed))
	msg := strings.Join(lines, "\n")

	switch {
	case failed == 0:
		return Result{Success: true, Message: msg}
	case ok == 0 && len(kinds) == 1:
		for k := range kinds {
			return Result{Kind: k, Message: msg}
		}
	}
	return Result{Kind: PartialBatchFailure, Message: msg}
}

// Err aggregates the failed items into one error, or nil.
func (b BatchResult) Err() error {
	var errs []error
	for _, it := range b.Items {
		if err := it.Result.Err(); err != nil {
			errs = append(errs, fmt.Errorf("port %d: %w", it.Port, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}
