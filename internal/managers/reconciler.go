package managers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"fwdctl/internal/backends"
	"fwdctl/internal/forward"
	"fwdctl/pkg/logging"
)

// DefaultReconcileInterval is the time between periodic reconcile passes.
const DefaultReconcileInterval = 30 * time.Second

// forwardReconciler implements the ForwardReconciler interface
type forwardReconciler struct {
	manager  *Manager
	interval time.Duration

	last    ReconcileReport
	lastAt  time.Time
	hasLast bool

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newForwardReconciler(manager *Manager) *forwardReconciler {
	return &forwardReconciler{
		manager:  manager,
		interval: DefaultReconcileInterval,
	}
}

// Reconcile compares the declared rules of every tunnel with what the active
// backend reports and applies the repairs selected by opts.
func (r *forwardReconciler) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, forward.Result) {
	var report ReconcileReport
	var result forward.Result
	r.manager.ctrl.Exec(func(mode forward.Mode, b backends.Backend) {
		report, result = r.reconcileLocked(ctx, mode, b, opts)
	})

	r.mu.Lock()
	r.last, r.lastAt, r.hasLast = report, time.Now(), true
	r.mu.Unlock()
	return report, result
}

func (r *forwardReconciler) reconcileLocked(ctx context.Context, mode forward.Mode, b backends.Backend, opts ReconcileOptions) (ReconcileReport, forward.Result) {
	report := ReconcileReport{Mode: mode}
	if b == nil {
		return report, forward.OK("port forwarding is disabled, nothing to reconcile")
	}

	declared, err := r.manager.store.DeclaredRules()
	if err != nil {
		return report, forward.Fail(forward.StatePersistFailed, "%v", err)
	}
	byPort := make(map[int]forward.Rule, len(declared))
	for _, d := range declared {
		byPort[d.LocalPort] = d
	}

	running := sets.New[int]()
	for _, st := range b.List(ctx) {
		d, ok := byPort[st.LocalPort]
		if !ok {
			report.Orphaned = append(report.Orphaned, st)
			continue
		}
		if !st.Running {
			continue
		}
		running.Insert(st.LocalPort)
		if st.RemotePort != 0 && !d.SameTarget(st.Rule) {
			report.Drifted = append(report.Drifted, Drift{Declared: d, Observed: st})
			continue
		}
		report.InSync = append(report.InSync, st.LocalPort)
	}
	for _, d := range declared {
		if !running.Has(d.LocalPort) {
			report.Missing = append(report.Missing, d)
		}
	}
	forward.SortRules(report.Missing)

	summary := fmt.Sprintf("%s: %d in sync, %d missing, %d orphaned, %d drifted",
		mode, len(report.InSync), len(report.Missing), len(report.Orphaned), len(report.Drifted))
	if report.Clean() || (!opts.Apply && !opts.Prune) {
		return report, forward.OK("%s", summary)
	}

	var repairs forward.BatchResult
	if opts.Prune && len(report.Orphaned) > 0 {
		ports := make([]int, 0, len(report.Orphaned))
		for _, o := range report.Orphaned {
			ports = append(ports, o.LocalPort)
		}
		logging.Info("Reconciler", "stopping %d orphaned forward(s)", len(ports))
		repairs.Merge(r.manager.stopPorts(ctx, b, ports))
	}

	if opts.Apply {
		toStart := append([]forward.Rule(nil), report.Missing...)
		if len(report.Drifted) > 0 {
			if _, declarative := backends.AsDeclarative(b); declarative {
				for _, d := range report.Drifted {
					toStart = append(toStart, d.Declared)
				}
			} else {
				ports := make([]int, 0, len(report.Drifted))
				for _, d := range report.Drifted {
					ports = append(ports, d.Declared.LocalPort)
				}
				stopped := r.manager.stopPorts(ctx, b, ports)
				failed := sets.New[int]()
				for _, it := range stopped.Items {
					if !it.Result.Success {
						failed.Insert(it.Port)
						repairs.Add(it.Port, it.Result)
					}
				}
				for _, d := range report.Drifted {
					if !failed.Has(d.Declared.LocalPort) {
						toStart = append(toStart, d.Declared)
					}
				}
			}
		}
		forward.SortRules(toStart)
		if len(toStart) > 0 {
			logging.Info("Reconciler", "starting %d missing or drifted forward(s)", len(toStart))
			repairs.Merge(r.manager.startRules(ctx, b, toStart))
		}
	}

	report.Repairs = repairs
	res := repairs.Result()
	res.Message = summary + "\n" + res.Message
	return report, res
}

// StartMonitoring runs a reconcile pass immediately and then every interval
// until ctx is done or StopMonitoring is called.
func (r *forwardReconciler) StartMonitoring(ctx context.Context, opts ReconcileOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("reconcile monitoring already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.monitor(r.ctx, r.interval, opts)

	logging.Info("Reconciler", "Started reconcile monitoring with interval %v", r.interval)
	return nil
}

// StopMonitoring stops the periodic passes and waits for the running one.
func (r *forwardReconciler) StopMonitoring() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
		r.ctx = nil
	}
	r.mu.Unlock()

	r.wg.Wait()

	logging.Info("Reconciler", "Stopped reconcile monitoring")
}

// SetInterval sets the time between periodic passes. It applies to the next
// StartMonitoring.
func (r *forwardReconciler) SetInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = interval
}

// LastReport returns the most recent report and when it was produced.
func (r *forwardReconciler) LastReport() (ReconcileReport, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.lastAt, r.hasLast
}

func (r *forwardReconciler) monitor(ctx context.Context, interval time.Duration, opts ReconcileOptions) {
	defer r.wg.Done()
	defer r.clearMonitoring(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, res := r.Reconcile(ctx, opts)
		switch {
		case !res.Success:
			logging.Warn("Reconciler", "reconcile pass failed: %s", res.Message)
		case !report.Clean():
			logging.Info("Reconciler", "%s", res.Message)
		default:
			logging.Debug("Reconciler", "%s", res.Message)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// clearMonitoring forgets the monitoring context of a loop that exited on
// its own, so monitoring can be started again.
func (r *forwardReconciler) clearMonitoring(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == ctx {
		r.cancel()
		r.ctx, r.cancel = nil, nil
	}
}
