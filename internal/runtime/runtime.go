// Package runtime implements the task runtime (spec.md §4.9/§5, C14):
// spawns the fixed task set as goroutines, each registered with the
// heartbeat supervisor and rogering up once per iteration, with a
// periodic resource-headroom check standing in for the spec's
// stack-high-water-mark hook. It is grounded on the teacher's main.go
// task-spawn loop (one goroutine per collaborator, each wired to its own
// watchdog slot).
package runtime

import (
	"context"
	"log/slog"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/openenterprise/greenhouse/internal/heartbeat"
)

// Default task periods, per spec.md §4.9 ("informative defaults").
const (
	PeriodNet     = 1 * time.Second
	PeriodTempHum = 1 * time.Second
	PeriodLight   = 1 * time.Second
	PeriodSoil    = 2 * time.Second
	PeriodRoutine = 1 * time.Second
)

// HWMMinWords is spec.md §4.9's stack-headroom threshold. Go goroutines
// grow their stacks on demand rather than exposing a fixed high-water
// mark, so this runtime checks goroutine-count headroom against
// MaxGoroutines as the portable equivalent: both exist to catch the same
// failure (a runaway task consuming the scheduler's resource budget).
const HWMMinWords = 512

// MaxGoroutines is the goroutine-count budget checked in place of a
// stack watermark.
const MaxGoroutines = 4096

// Task is one member of the fixed task set.
type Task struct {
	Name   string
	Period time.Duration
	Fn     func(ctx context.Context)
}

// Runtime spawns and supervises the fixed task set.
type Runtime struct {
	hb  *heartbeat.Supervisor
	log *slog.Logger

	mu    sync.Mutex
	tasks []Task

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Runtime reporting liveness through hb.
func New(hb *heartbeat.Supervisor, logger *slog.Logger) *Runtime {
	return &Runtime{hb: hb, log: logger}
}

// Register adds a task to the fixed set. Must be called before Start.
func (r *Runtime) Register(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

// Start spawns one goroutine per registered task, per spec.md §4.9.
// Task creation failure (heartbeat slot exhaustion) logs CRITICAL and
// skips that task rather than aborting the whole runtime.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.mu.Lock()
	tasks := append([]Task(nil), r.tasks...)
	r.mu.Unlock()

	for _, t := range tasks {
		initial := uint8(t.Period.Seconds()*2 + 2)
		id, err := r.hb.Register(t.Name, initial)
		if err != nil {
			if r.log != nil {
				r.log.Error("runtime:task-create-failed", slog.String("task", t.Name), slog.String("err", err.Error()))
			}
			continue
		}

		r.wg.Add(1)
		go r.run(ctx, t, id)
	}
}

func (r *Runtime) run(ctx context.Context, t Task, slot heartbeat.SlotID) {
	defer r.wg.Done()

	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reset := uint8(t.Period.Seconds()*2 + 2)
			r.hb.RogerUp(slot, int(reset))
			t.Fn(ctx)
			r.checkWatermark(t.Name)
		}
	}
}

// checkWatermark is the stack-high-water-mark hook from spec.md §4.9,
// realized as a goroutine-count headroom check.
func (r *Runtime) checkWatermark(taskName string) {
	n := goruntime.NumGoroutine()
	if n >= MaxGoroutines-HWMMinWords && r.log != nil {
		r.log.Error("runtime:watermark-critical", slog.String("task", taskName), slog.Int("goroutines", n))
	}
}

// Stop cancels every task's context and waits for them to exit.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
