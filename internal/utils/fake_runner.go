package utils

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeRunner is a scripted Runner for tests. Responses are matched by the
// first registered substring contained in the command line; unmatched
// commands succeed with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	rules    []fakeRule
	Commands []string
}

type fakeRule struct {
	match string
	fn    func(commandLine string) Outcome
}

// On registers a fixed outcome for command lines containing match.
func (f *FakeRunner) On(match string, out Outcome) *FakeRunner {
	return f.OnFunc(match, func(string) Outcome { return out })
}

// OnFunc registers a dynamic outcome for command lines containing match.
// Later registrations take precedence over earlier ones.
func (f *FakeRunner) OnFunc(match string, fn func(commandLine string) Outcome) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append([]fakeRule{{match: match, fn: fn}}, f.rules...)
	return f
}

// Run records the command line and returns the scripted outcome.
func (f *FakeRunner) Run(_ context.Context, commandLine string, _ time.Duration) Outcome {
	f.mu.Lock()
	f.Commands = append(f.Commands, commandLine)
	rules := f.rules
	f.mu.Unlock()

	for _, r := range rules {
		if strings.Contains(commandLine, r.match) {
			return r.fn(commandLine)
		}
	}
	return Outcome{Succeeded: true}
}

// Ran reports whether any recorded command line contains substr.
func (f *FakeRunner) Ran(substr string) bool {
	return f.Count(substr) > 0
}

// Count returns how many recorded command lines contain substr.
func (f *FakeRunner) Count(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Commands {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// Succeed is shorthand for a successful Outcome with the given stdout.
func Succeed(stdout string) Outcome {
	return Outcome{Succeeded: true, Stdout: stdout}
}

// Failed is shorthand for a failed Outcome with the given stderr.
func Failed(stderr string) Outcome {
	return Outcome{Stderr: stderr}
}
