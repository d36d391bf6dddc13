// Package runner executes verification runs: one at a time, one identifier
// at a time, consulting the session first and the fallback probe second.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/metrics"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/phone"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// Setup errors returned by Start. None of them touch the run state.
var (
	ErrSessionNotReady = errors.New("session is not ready; scan the QR code")
	ErrAlreadyRunning  = errors.New("a verification run is already in progress")
	ErrNoValidNumbers  = errors.New("no valid numbers found")
)

const (
	defaultItemDelay       = 30 * time.Millisecond
	defaultDiagnosticLimit = 5
	persistTimeout         = 30 * time.Second
)

// Config controls Runner behavior.
type Config struct {
	// ItemDelay is the pause between identifiers.
	ItemDelay time.Duration
	// DiagnosticLimit caps diagnostic captures per run.
	DiagnosticLimit int
	// BaseContext is the parent of every run; cancel it to abort runs on shutdown.
	BaseContext context.Context
}

// Runner owns the single run slot and the run state.
type Runner struct {
	session verify.SessionProvider
	prober  verify.Prober
	reports verify.ReportSink
	emitter progress.Emitter
	clock   verify.Clock
	cfg     Config
	logger  *zap.Logger

	claimed       atomic.Bool
	stopRequested atomic.Bool

	mu    sync.RWMutex
	state verify.RunState
	done  chan struct{}
}

// New constructs a Runner. reports and emitter may be nil.
func New(
	session verify.SessionProvider,
	prober verify.Prober,
	reports verify.ReportSink,
	emitter progress.Emitter,
	clock verify.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.ItemDelay <= 0 {
		cfg.ItemDelay = defaultItemDelay
	}
	if cfg.DiagnosticLimit <= 0 {
		cfg.DiagnosticLimit = defaultDiagnosticLimit
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan struct{})
	close(done)
	return &Runner{
		session: session,
		prober:  prober,
		reports: reports,
		emitter: emitter,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		done:    done,
	}
}

// Start parses text into a queue and launches a run in the background. It
// returns the queue size once the run has been claimed.
func (r *Runner) Start(_ context.Context, text string) (int, error) {
	if !r.session.Ready() {
		return 0, ErrSessionNotReady
	}
	if !r.claimed.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRunning
	}
	queue := phone.ParseList(text)
	if len(queue) == 0 {
		r.claimed.Store(false)
		return 0, ErrNoValidNumbers
	}

	done := make(chan struct{})
	r.stopRequested.Store(false)
	r.mu.Lock()
	r.state = verify.RunState{
		Running:   true,
		StartedAt: r.clock.Now().UTC(),
		Total:     len(queue),
	}
	r.done = done
	r.mu.Unlock()

	r.logger.Info("run started", zap.Int("total", len(queue)))
	r.publishStatus()
	go r.run(r.cfg.BaseContext, queue, done)
	return len(queue), nil
}

// Stop asks the current run to finish after the item in flight. It is a
// no-op when no run is active.
func (r *Runner) Stop() {
	if !r.claimed.Load() {
		return
	}
	if r.stopRequested.CompareAndSwap(false, true) {
		r.logger.Info("stop requested")
	}
}

// Running reports whether a run holds the slot.
func (r *Runner) Running() bool {
	return r.claimed.Load()
}

// State returns a copy of the current run state.
func (r *Runner) State() verify.RunState {
	r.mu.RLock()
	st := r.state.Clone()
	r.mu.RUnlock()
	st.StopRequested = r.stopRequested.Load()
	return st
}

// Snapshot returns the status view including session readiness.
func (r *Runner) Snapshot() verify.Snapshot {
	return verify.NewSnapshot(r.State(), r.session.Ready(), r.session.LoginArtifact())
}

// Wait blocks until the current run, if any, has fully finished.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run: %w", ctx.Err())
	}
}

func (r *Runner) run(ctx context.Context, queue []verify.Identifier, done chan struct{}) {
	defer close(done)
	defer r.claimed.Store(false)

	diagnostics := 0
	for len(queue) > 0 && !r.stopRequested.Load() {
		if ctx.Err() != nil {
			break
		}
		id := queue[0]
		queue = queue[1:]

		r.update(func(s *verify.RunState) { s.Current = id })
		r.publishStatus()

		r.processItem(ctx, id, &diagnostics)

		r.update(func(s *verify.RunState) {
			s.Processed++
			s.Current = ""
		})
		r.publishStatus()

		if err := r.pause(ctx); err != nil {
			break
		}
	}
	r.finish(ctx)
}

// processItem decides one identifier, records the verdict in a single state
// update, and reports it. Each identifier lands in exactly one result list.
func (r *Runner) processItem(ctx context.Context, id verify.Identifier, diagnostics *int) {
	v := r.safeDecide(ctx, id, diagnostics)

	r.update(func(s *verify.RunState) {
		switch {
		case v.panicked != "":
			s.NoMatch = append(s.NoMatch, id)
			s.Errors = append(s.Errors, verify.ItemError{Identifier: id, Reason: v.panicked})
		case v.has:
			s.HasMatch = append(s.HasMatch, id)
		default:
			s.NoMatch = append(s.NoMatch, id)
			if v.primaryErr != "" {
				s.Errors = append(s.Errors, verify.ItemError{
					Identifier: id,
					Reason:     verify.ReasonPrimaryLookupError + ": " + v.primaryErr,
				})
			}
		}
	})

	item := progress.Item{Identifier: id, Via: v.via}
	switch {
	case v.panicked != "":
		item = progress.Item{Result: progress.ItemError, Identifier: id, Reason: v.panicked}
	case v.has:
		item.Result = progress.ItemMatch
	default:
		item.Result = progress.ItemNoMatch
		item.Reason = v.reason
	}
	r.emitItem(item)
}

// safeDecide turns a panic while deciding into an error verdict.
func (r *Runner) safeDecide(ctx context.Context, id verify.Identifier, diagnostics *int) (v verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			reason := fmt.Sprint(rec)
			r.logger.Error("item verification panicked",
				zap.String("digits", id.String()),
				zap.String("reason", reason),
			)
			v = verdict{panicked: reason}
		}
	}()
	return r.decide(ctx, id, diagnostics)
}

// emitItem publishes a progress event. The verdict is already recorded, so a
// failing emitter only costs the event.
func (r *Runner) emitItem(item progress.Item) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("progress emit panicked",
				zap.String("digits", item.Identifier.String()),
				zap.Any("reason", rec),
			)
		}
	}()
	r.emit(progress.ProgressEvent(r.now(), item))
}

type verdict struct {
	has    bool
	via    verify.Tier
	reason string
	// primaryErr is kept only while the session failure is what the
	// verdict rests on.
	primaryErr string
	// panicked holds the recovered panic message, if deciding panicked.
	panicked string
}

func (r *Runner) decide(ctx context.Context, id verify.Identifier, diagnostics *int) verdict {
	v := verdict{via: verify.TierSession}
	start := time.Now()
	found, err := r.session.Lookup(ctx, id)
	metrics.ObserveLookup(string(verify.TierSession), sessionOutcome(found, err), time.Since(start))
	if err != nil {
		r.logger.Warn("session lookup failed", zap.String("digits", id.String()), zap.Error(err))
		v.reason = verify.ReasonPrimaryLookupError
		v.primaryErr = err.Error()
	} else {
		v.has = found
	}
	if v.has {
		return v
	}

	start = time.Now()
	res := r.prober.Probe(ctx, id, *diagnostics < r.cfg.DiagnosticLimit)
	metrics.ObserveLookup(string(verify.TierClickToChat), string(res.Outcome), time.Since(start))
	*diagnostics++
	switch res.Outcome {
	case verify.OutcomeFound:
		v.has = true
		v.via = res.Via
		v.primaryErr = ""
	case verify.OutcomeNotFound:
		v.via = res.Via
		v.reason = verify.ReasonNoAccount
		v.primaryErr = ""
	case verify.OutcomeError:
		r.logger.Warn("fallback probe failed", zap.String("digits", id.String()), zap.String("error", res.Err))
		fallthrough
	default:
		if v.reason == "" {
			v.reason = verify.ReasonIndeterminate
		}
	}
	r.logger.Debug("number decided",
		zap.String("digits", id.String()),
		zap.Bool("has", v.has),
		zap.String("via", string(v.via)),
		zap.String("fallback", string(res.Outcome)),
	)
	return v
}

func sessionOutcome(found bool, err error) string {
	switch {
	case err != nil:
		return string(verify.OutcomeError)
	case found:
		return string(verify.OutcomeFound)
	default:
		return string(verify.OutcomeNotFound)
	}
}

func (r *Runner) finish(ctx context.Context) {
	finished := r.clock.Now().UTC()
	r.update(func(s *verify.RunState) {
		s.Running = false
		s.Current = ""
		s.FinishedAt = finished
	})
	state := r.State()

	reportID := r.persist(ctx, verify.NewReport(state))
	dur := state.FinishedAt.Sub(state.StartedAt)
	if dur < 0 {
		dur = 0
	}
	r.logger.Info("run finished",
		zap.Int("processed", state.Processed),
		zap.Int("total", state.Total),
		zap.Int("has_match", len(state.HasMatch)),
		zap.Int("no_match", len(state.NoMatch)),
		zap.Int("errors", len(state.Errors)),
		zap.Bool("stopped", state.StopRequested),
		zap.String("report_id", reportID),
	)
	r.emit(progress.Event{Kind: progress.KindDone, TS: r.now(), ReportID: reportID, Dur: dur})
	r.publishStatus()
}

// persist writes the report and returns its name, or "" when it could not
// be written.
func (r *Runner) persist(ctx context.Context, report verify.Report) string {
	if r.reports == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	name, err := r.reports.Persist(ctx, report)
	if err != nil {
		r.logger.Error("persist run report failed", zap.Error(err))
		return ""
	}
	return name
}

func (r *Runner) pause(ctx context.Context) error {
	timer := time.NewTimer(r.cfg.ItemDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("run canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (r *Runner) update(fn func(*verify.RunState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
}

func (r *Runner) publishStatus() {
	r.emit(progress.StatusEvent(r.now(), r.Snapshot()))
}

func (r *Runner) emit(evt progress.Event) {
	r.emitter.Emit(evt)
}

func (r *Runner) now() time.Time {
	return r.clock.Now().UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
