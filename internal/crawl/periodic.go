package crawl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/workerpool"
)

// periodicItem pairs an address with the pass-level WaitGroup so runPass
// can block until every enqueued item has been handled, translating
// utils.WaitCounter.
type periodicItem struct {
	address string
	wg      *sync.WaitGroup
}

// ItemSource enumerates the work items one pass of a PeriodicJob processes.
type ItemSource func(ctx context.Context) ([]string, error)

// ItemProcessor handles one item, translating
// utils.PeriodicBackgroundTask._process_item.
type ItemProcessor func(ctx context.Context, item string) error

// PeriodicJobConfig configures a PeriodicJob, mirroring
// utils.PeriodicBackgroundTask's class attributes.
type PeriodicJobConfig struct {
	Name           string
	Workers        int
	MinInterval    time.Duration
	ProcessDelay   time.Duration
	Timeout        time.Duration
	Logger         *obslog.Logger
	GetItems       ItemSource
	ProcessItem    ItemProcessor
	// AfterPass runs once per completed pass, e.g. Watcher's ExpireMUCs
	// sweep (utils.PeriodicBackgroundTask._execute override).
	AfterPass func(ctx context.Context) error
}

// PeriodicJob is the Go analogue of utils.PeriodicBackgroundTask /
// RobustBackgroundJobService: it drives a bounded worker pool over a
// freshly-collected item list, waits for the minimum interval between
// passes, and after a pass that returns an error logs it and starts the
// next pass after a 1s backoff (spec §4.4/§4.5). Panics are not recovered.
type PeriodicJob struct {
	cfg  PeriodicJobConfig
	pool *workerpool.Pool
	stop chan struct{}
	done chan struct{}
}

// NewPeriodicJob starts the underlying worker pool. Run must be called to
// start the scheduling loop.
func NewPeriodicJob(cfg PeriodicJobConfig) (*PeriodicJob, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	j := &PeriodicJob{cfg: cfg, stop: make(chan struct{}), done: make(chan struct{})}

	pool, err := workerpool.New(workerpool.Config{
		Workers:        cfg.Workers,
		MaxQueueSize:   cfg.Workers * 2,
		PerTaskTimeout: cfg.Timeout,
		InterTaskDelay: cfg.ProcessDelay,
	}, j.handleItem)
	if err != nil {
		return nil, err
	}
	j.pool = pool
	return j, nil
}

func (j *PeriodicJob) handleItem(ctx context.Context, item any) error {
	pi, ok := item.(periodicItem)
	if !ok {
		return nil
	}
	defer pi.wg.Done()
	return j.cfg.ProcessItem(ctx, pi.address)
}

// Run loops forever, collecting items and scheduling them onto the pool,
// until ctx is cancelled. A pass that errors logs and restarts after 1s,
// translating RobustBackgroundJobService.__task_watcher.
func (j *PeriodicJob) Run(ctx context.Context) {
	defer close(j.done)
	logger := slog.Default()
	if j.cfg.Logger != nil {
		logger = j.cfg.Logger.WithContext(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := j.runPass(ctx); err != nil {
			logger.Warn("periodic job pass failed", "job", j.cfg.Name, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (j *PeriodicJob) runPass(ctx context.Context) error {
	start := time.Now()
	items, err := j.cfg.GetItems(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(len(items))
	for _, item := range items {
		if err := j.pool.Enqueue(ctx, periodicItem{address: item, wg: &wg}); err != nil {
			wg.Done()
			return err
		}
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	if j.cfg.AfterPass != nil {
		if err := j.cfg.AfterPass(ctx); err != nil {
			return err
		}
	}

	elapsed := time.Since(start)
	if remaining := j.cfg.MinInterval - elapsed; remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
		}
	}
	return nil
}

// Close shuts down the underlying worker pool.
func (j *PeriodicJob) Close() {
	j.pool.Close(false)
	j.pool.Wait()
}
