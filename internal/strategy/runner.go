package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"quantbench/internal/domain"
)

// ErrShutdown is returned by Submit after Close.
var ErrShutdown = errors.New("runner is shut down")

// ResultStore persists terminal results.
type ResultStore interface {
	SaveResult(ctx context.Context, res *domain.BacktestResult) error
	// GetResult returns ErrNotFound for unknown ids.
	GetResult(ctx context.Context, id string) (*domain.BacktestResult, error)
	// ListResults returns summaries, newest first.
	ListResults(ctx context.Context, limit int) ([]domain.BacktestResult, error)
}

// Recorder receives run lifecycle measurements.
type Recorder interface {
	RunSubmitted(strategyType string)
	RunStarted()
	// RunFinished is called once per run; started reports whether RunStarted
	// was called for it.
	RunFinished(status domain.RunStatus, kind string, elapsed time.Duration, started bool)
	BarsProcessed(n int)
}

type nopRecorder struct{}

func (nopRecorder) RunSubmitted(string)                                       {}
func (nopRecorder) RunStarted()                                               {}
func (nopRecorder) RunFinished(domain.RunStatus, string, time.Duration, bool) {}
func (nopRecorder) BarsProcessed(int)                                         {}

// Event reports a status transition of one run.
type Event struct {
	ID     string           `json:"id"`
	Status domain.RunStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
	Time   time.Time        `json:"time"`
}

// RunnerConfig bounds the Runner.
type RunnerConfig struct {
	// MaxConcurrent is the number of runs executing at once. Values below 1
	// mean 1.
	MaxConcurrent int
	// RunTimeout cancels a run that takes longer. Zero disables it.
	RunTimeout time.Duration
	// Retention is the number of terminal runs kept in memory. Older ones
	// are served from the ResultStore. Zero keeps everything.
	Retention int
}

type run struct {
	result *domain.BacktestResult
	cancel context.CancelFunc
}

// Runner executes backtests in the background and exposes their status for
// polling. Each run owns its own indicator, position and trade state; the
// Runner only guards its index of runs.
type Runner struct {
	bt    *Backtester
	store ResultStore
	rec   Recorder
	log   *slog.Logger
	sem   *semaphore.Weighted
	cfg   RunnerConfig

	mu    sync.RWMutex
	runs  map[string]*run
	order []string

	subsMu    sync.Mutex
	subs      map[int]chan Event
	nextSubID int

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. store and rec may be nil.
func NewRunner(bt *Backtester, store ResultStore, rec Recorder, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		bt:      bt,
		store:   store,
		rec:     rec,
		log:     logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:     cfg,
		runs:    make(map[string]*run),
		subs:    make(map[int]chan Event),
		baseCtx: ctx,
		stop:    stop,
	}
}

// Registry returns the family registry used to normalise submissions.
func (r *Runner) Registry() *Registry { return r.bt.Registry() }

// Submit validates def and schedules a run over [start, end]. Invalid
// definitions return ErrInvalidParameters and create nothing. The returned
// result is PENDING.
func (r *Runner) Submit(def domain.StrategyDefinition, start, end time.Time) (*domain.BacktestResult, error) {
	norm, err := r.bt.Registry().Normalize(def)
	if err != nil {
		return nil, err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: end_date %s is before start_date %s", domain.ErrInvalidParameters,
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if r.baseCtx.Err() != nil {
		return nil, ErrShutdown
	}

	res := &domain.BacktestResult{
		ID:           uuid.NewString(),
		StrategyID:   norm.ID,
		StrategyName: norm.Name,
		Symbol:       norm.Symbol,
		Status:       domain.StatusPending,
		StartDate:    start,
		EndDate:      end,
		CreatedAt:    time.Now().UTC(),
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	if r.cfg.RunTimeout > 0 {
		ctx, cancel = withTimeout(ctx, cancel, r.cfg.RunTimeout)
	}

	r.mu.Lock()
	r.runs[res.ID] = &run{result: res, cancel: cancel}
	r.order = append(r.order, res.ID)
	r.mu.Unlock()

	r.rec.RunSubmitted(string(norm.Type))
	r.broadcast(Event{ID: res.ID, Status: res.Status, Time: res.CreatedAt})
	r.log.Info("backtest submitted", "id", res.ID, "symbol", norm.Symbol, "strategy_type", norm.Type)

	r.wg.Add(1)
	go r.execute(ctx, cancel, res.ID, norm, res.Clone())
	return res.Clone(), nil
}

func withTimeout(parent context.Context, cancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancelTimeout := context.WithTimeout(parent, d)
	return ctx, func() {
		cancelTimeout()
		cancel()
	}
}

// execute runs on its own goroutine and always settles the run.
func (r *Runner) execute(ctx context.Context, cancel context.CancelFunc, id string, def domain.StrategyDefinition, res *domain.BacktestResult) {
	defer r.wg.Done()
	defer cancel()

	began := time.Now()
	started := false
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("backtest panicked", "id", id, "panic", p)
			r.bt.fail(res, fmt.Errorf("internal error: %v", p))
			r.settle(res, began, started)
		}
	}()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.bt.fail(res, fmt.Errorf("%w: %v", domain.ErrCancelled, err))
		r.settle(res, began, false)
		return
	}
	defer r.sem.Release(1)

	now := time.Now().UTC()
	res.Status = domain.StatusRunning
	res.StartedAt = &now
	r.update(res)
	r.rec.RunStarted()
	started = true

	r.bt.execute(ctx, def, res, Options{})
	r.rec.BarsProcessed(res.BarCount)
	r.settle(res, began, true)
}

// update replaces the stored copy of a non-terminal run.
func (r *Runner) update(res *domain.BacktestResult) {
	r.mu.Lock()
	if rn, ok := r.runs[res.ID]; ok {
		rn.result = res.Clone()
	}
	r.mu.Unlock()
	r.broadcast(Event{ID: res.ID, Status: res.Status, Time: time.Now().UTC()})
}

// settle persists a terminal result, then publishes it.
func (r *Runner) settle(res *domain.BacktestResult, began time.Time, started bool) {
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.store.SaveResult(ctx, res); err != nil {
			r.log.Error("persisting backtest result", "id", res.ID, "error", err)
		}
		cancel()
	}

	r.mu.Lock()
	if rn, ok := r.runs[res.ID]; ok {
		rn.result = res.Clone()
	}
	r.evictLocked()
	r.mu.Unlock()

	r.rec.RunFinished(res.Status, res.ErrorKind, time.Since(began), started)
	r.broadcast(Event{ID: res.ID, Status: res.Status, Error: res.ErrorMessage, Time: time.Now().UTC()})
	r.log.Info("backtest finished", "id", res.ID, "status", res.Status,
		"bars", res.BarCount, "trades", len(res.Trades), "elapsed", time.Since(began))
}

// evictLocked drops the oldest terminal runs beyond the retention limit.
// They stay reachable through the ResultStore.
func (r *Runner) evictLocked() {
	if r.cfg.Retention <= 0 || r.store == nil {
		return
	}
	terminal := 0
	for _, id := range r.order {
		if r.runs[id].result.Status.Terminal() {
			terminal++
		}
	}
	if terminal <= r.cfg.Retention {
		return
	}
	drop := terminal - r.cfg.Retention
	kept := r.order[:0]
	for _, id := range r.order {
		if drop > 0 && r.runs[id].result.Status.Terminal() {
			delete(r.runs, id)
			drop--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// Get returns a deep copy of the run's current result.
func (r *Runner) Get(ctx context.Context, id string) (*domain.BacktestResult, error) {
	r.mu.RLock()
	rn, ok := r.runs[id]
	var out *domain.BacktestResult
	if ok {
		out = rn.result.Clone()
	}
	r.mu.RUnlock()
	if ok {
		return out, nil
	}
	if r.store != nil {
		return r.store.GetResult(ctx, id)
	}
	return nil, fmt.Errorf("%w: backtest %s", domain.ErrNotFound, id)
}

// List returns summaries of known runs, newest first.
func (r *Runner) List(ctx context.Context, limit int) ([]domain.BacktestResult, error) {
	seen := make(map[string]bool)
	var out []domain.BacktestResult

	r.mu.RLock()
	for _, id := range r.order {
		out = append(out, *r.runs[id].result.Summary())
		seen[id] = true
	}
	r.mu.RUnlock()

	if r.store != nil {
		stored, err := r.store.ListResults(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			if !seen[s.ID] {
				out = append(out, s)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cancel requests cooperative cancellation. Cancelling a terminal run is a
// no-op.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.RLock()
	rn, ok := r.runs[id]
	r.mu.RUnlock()
	if ok {
		rn.cancel()
		r.log.Info("backtest cancel requested", "id", id)
		return nil
	}
	if r.store != nil {
		if _, err := r.store.GetResult(ctx, id); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: backtest %s", domain.ErrNotFound, id)
}

// Wait blocks until the run is terminal or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (*domain.BacktestResult, error) {
	subID, events := r.Subscribe(16)
	defer r.Unsubscribe(subID)

	for {
		res, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-events:
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Subscribe returns a channel that receives status events. bufSize controls
// the channel buffer; slow consumers will have events dropped.
func (r *Runner) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	r.subsMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = ch
	r.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Runner) Unsubscribe(id int) {
	r.subsMu.Lock()
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
	r.subsMu.Unlock()
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (r *Runner) broadcast(e Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close cancels every in-flight run and waits for them to settle.
func (r *Runner) Close(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
