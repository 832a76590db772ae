package crawl

import (
	"context"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/store"
	"github.com/dukepan/muclumbus/internal/workerpool"
)

// Callback receives the outcome of an analysis, after persistence, per
// spec §4.3 step 6.
type Callback func(address string, meta store.AddressMetadata)

// AnalyserConfig configures the shared analysis pool (spec §4.3: 16
// workers, queue ≤128, inter-task delay 0.5s, 15s per-task timeout).
type AnalyserConfig struct {
	Store  store.Store
	Client chatclient.Client
	Logger *obslog.Logger

	// OnJoinableOrIndexable forwards a newly-discovered joinable/indexable
	// address to the Watcher's per-address queue (spec §4.3 step 5).
	OnJoinableOrIndexable func(address string)
}

// Analyser is the single handler mounted on the shared analysis pool,
// grounded on original_source/muchopper/bot/utils.py's classification
// helpers plus the suggester dispatch pattern visible across scanner.py/
// watcher.py/insideman.py (all of which `await suggester(address)`).
type Analyser struct {
	cfg  AnalyserConfig
	pool *workerpool.Pool
}

type analysisTask struct {
	address    string
	privileged bool
	callback   Callback
}

// NewAnalyser starts the shared analysis worker pool.
func NewAnalyser(cfg AnalyserConfig) (*Analyser, error) {
	a := &Analyser{cfg: cfg}
	pool, err := workerpool.New(workerpool.Config{
		Workers:        16,
		MaxQueueSize:   128,
		PerTaskTimeout: 15 * time.Second,
		InterTaskDelay: 500 * time.Millisecond,
	}, a.process)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return a, nil
}

// Submit enqueues address for analysis, blocking if the shared queue is full.
func (a *Analyser) Submit(ctx context.Context, address string, privileged bool, callback Callback) error {
	return a.pool.Enqueue(ctx, analysisTask{address: address, privileged: privileged, callback: callback})
}

// SubmitNoWait enqueues address, dropping it with crawlerr's QueueFull
// condition (via workerpool.ErrQueueFull) rather than blocking — used by
// non-blocking submitters (spec §5's backpressure rules).
func (a *Analyser) SubmitNoWait(address string, privileged bool, callback Callback) error {
	return a.pool.EnqueueNoWait(analysisTask{address: address, privileged: privileged, callback: callback})
}

func (a *Analyser) process(ctx context.Context, item any) error {
	task, ok := item.(analysisTask)
	if !ok {
		return nil
	}
	address := task.address

	if meta, found, err := a.cfg.Store.GetAddressMetadata(ctx, address); err == nil && found {
		if meta.IsBanned {
			return nil
		}
		if !meta.IsJoinable {
			return nil
		}
	}

	info, err := a.cfg.Client.DiscoInfo(ctx, address, true)
	if err != nil {
		failed := a.cacheRemoteFailure(ctx, address, err)
		if task.callback != nil {
			task.callback(address, failed)
		}
		return nil
	}

	meta := ClassifyDiscoInfo(info)

	switch {
	case !meta.IsChatService:
		_ = a.cfg.Store.CacheAddressMetadata(ctx, address, meta, store.TTLNonService)
	case !meta.IsJoinable && !meta.IsIndexable:
		_ = a.cfg.Store.CacheAddressMetadata(ctx, address, meta, store.TTLClosed)
	default:
		update := CollectMUCMetadata(info)
		if err := a.cfg.Store.UpdateMUCMetadata(ctx, address, update); err != nil {
			if a.cfg.Logger != nil {
				a.cfg.Logger.Error(ctx, "failed to persist muc metadata", "address", address, "error", err)
			}
		}
		if a.cfg.OnJoinableOrIndexable != nil {
			a.cfg.OnJoinableOrIndexable(address)
		}
	}

	if task.callback != nil {
		task.callback(address, meta)
	}
	return nil
}

func (a *Analyser) cacheRemoteFailure(ctx context.Context, address string, err error) store.AddressMetadata {
	var meta store.AddressMetadata
	transient, permanent, banned := chatclient.ClassifyCondition(err)
	switch {
	case banned:
		meta = store.AddressMetadata{IsBanned: true}
		_ = a.cfg.Store.CacheAddressMetadata(ctx, address, meta, store.TTLBanned)
		_ = a.cfg.Store.DeleteAllMUCData(ctx, address)
	case permanent:
		_ = a.cfg.Store.DeleteAllMUCData(ctx, address)
	case transient:
		_ = a.cfg.Store.CacheAddressMetadata(ctx, address, store.AddressMetadata{}, store.TTLUnreachable)
	default:
		_ = a.cfg.Store.CacheAddressMetadata(ctx, address, store.AddressMetadata{}, store.TTLUnreachable)
	}
	if a.cfg.Logger != nil {
		a.cfg.Logger.Debug(ctx, "disco_info failed", "address", address, "error", err)
	}
	return meta
}

// Close shuts down the shared analysis pool.
func (a *Analyser) Close() {
	a.pool.Close(false)
	a.pool.Wait()
}
