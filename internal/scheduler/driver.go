package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btouchard/beacon/internal/auth"
	"github.com/btouchard/beacon/internal/notification"
	"github.com/btouchard/beacon/internal/notify"
)

// Mode selects the polling cadence.
type Mode int

const (
	Foreground Mode = iota
	Background
)

func (m Mode) String() string {
	if m == Background {
		return "background"
	}
	return "foreground"
}

// ParseMode parses "foreground" or "background".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "foreground", "":
		return Foreground, nil
	case "background":
		return Background, nil
	default:
		return Foreground, fmt.Errorf("unknown mode %q", s)
	}
}

// ErrStopped is returned by RunNow after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Sessions is the token side of a cycle.
type Sessions interface {
	EnsureFresh(ctx context.Context) (*auth.Session, error)
	Load() *auth.Session
}

// Poller is the notification side of a cycle.
type Poller interface {
	Poll(ctx context.Context) (notification.Snapshot, error)
}

// Options configures a Driver.
type Options struct {
	Sessions   Sessions
	Poller     Poller
	Budget     Budget
	Foreground time.Duration
	Background time.Duration
	Mode       Mode
	Events     notify.Notifier
}

// Status describes the most recent cycle.
type Status struct {
	Mode      Mode
	Cycles    int
	LastCycle time.Time
	LastError string
}

// Driver runs token checks and notification polls on the cadence of the
// current mode. It never cancels an in-flight cycle; Stop only prevents new
// ones from starting.
type Driver struct {
	sessions   Sessions
	poller     Poller
	budget     Budget
	foreground time.Duration
	background time.Duration
	events     notify.Notifier

	modeCh    chan struct{}
	triggerCh chan struct{}
	stopCh    chan struct{}

	mu       sync.Mutex
	mode     Mode
	stopped  bool
	inFlight sync.WaitGroup
	status   Status

	cycleMu sync.Mutex
}

// New creates a Driver. Zero intervals default to 5 minutes in foreground
// and 30 seconds in background.
func New(opts Options) *Driver {
	fg, bg := opts.Foreground, opts.Background
	if fg <= 0 {
		fg = 5 * time.Minute
	}
	if bg <= 0 {
		bg = 30 * time.Second
	}
	budget := opts.Budget
	if budget == nil {
		budget = NewWindowBudget(bg)
	}

	return &Driver{
		sessions:   opts.Sessions,
		poller:     opts.Poller,
		budget:     budget,
		foreground: fg,
		background: bg,
		events:     opts.Events,
		modeCh:     make(chan struct{}, 1),
		triggerCh:  make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		mode:       opts.Mode,
		status:     Status{Mode: opts.Mode},
	}
}

// Run cycles once immediately and then on every tick until ctx is done or
// Stop is called.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval(d.Mode()))
	defer ticker.Stop()

	slog.Info("scheduler started", "mode", d.Mode(), "interval", d.interval(d.Mode()))

	_ = d.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			_ = d.runOnce(ctx)
		case <-d.triggerCh:
			_ = d.runOnce(ctx)
		case <-d.modeCh:
			interval := d.interval(d.Mode())
			ticker.Reset(interval)
			slog.Info("scheduler cadence changed", "mode", d.Mode(), "interval", interval)
		}
	}
}

// Stop prevents new cycles and waits for the in-flight one to finish.
// It is safe to call more than once.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.stopCh)
	}
	d.mu.Unlock()

	d.inFlight.Wait()
}

// Mode returns the current mode.
func (d *Driver) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetMode switches the cadence. The running ticker is reset.
func (d *Driver) SetMode(m Mode) {
	d.mu.Lock()
	if d.mode == m {
		d.mu.Unlock()
		return
	}
	d.mode = m
	d.status.Mode = m
	d.mu.Unlock()

	select {
	case d.modeCh <- struct{}{}:
	default:
	}
}

// Trigger requests an immediate cycle. Requests made while one is pending
// are coalesced.
func (d *Driver) Trigger() {
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
}

// RunNow runs one cycle synchronously and returns its error.
func (d *Driver) RunNow(ctx context.Context) error {
	return d.runOnce(ctx)
}

// Status returns the outcome of the most recent cycle.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) interval(m Mode) time.Duration {
	if m == Background {
		return d.background
	}
	return d.foreground
}

func (d *Driver) runOnce(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.inFlight.Add(1)
	mode := d.mode
	d.mu.Unlock()
	defer d.inFlight.Done()

	// Ticks and RunNow never overlap.
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	// Network calls are never hard-canceled.
	ctx = context.WithoutCancel(ctx)

	var err error
	if mode == Background {
		release, ok := d.budget.Begin("notification cycle")
		if !ok {
			slog.Info("no background execution time, skipping cycle")
			return nil
		}
		func() {
			defer release()
			err = d.cycle(ctx)
		}()
	} else {
		err = d.cycle(ctx)
	}

	d.mu.Lock()
	d.status.Cycles++
	d.status.LastCycle = time.Now()
	d.status.LastError = ""
	if err != nil {
		d.status.LastError = err.Error()
	}
	d.mu.Unlock()

	return err
}

func (d *Driver) cycle(ctx context.Context) error {
	_, err := d.sessions.EnsureFresh(ctx)
	if errors.Is(err, auth.ErrNoSession) && d.sessions.Load() != nil {
		// Picked up a login made by another process.
		_, err = d.sessions.EnsureFresh(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNoSession):
			slog.Debug("no session, skipping poll")
		case errors.Is(err, auth.ErrUnauthorized):
			slog.Warn("session ended, polling paused until next login", "error", err)
		default:
			slog.Warn("token check failed, retrying next tick", "error", err)
			d.emit(notify.Event{Type: notify.SyncFailed, Message: err.Error()})
		}
		return err
	}

	if _, err := d.poller.Poll(ctx); err != nil {
		d.emit(notify.Event{Type: notify.SyncFailed, Message: err.Error()})
		return err
	}
	return nil
}

func (d *Driver) emit(e notify.Event) {
	if d.events != nil {
		d.events.Notify(e)
	}
}
