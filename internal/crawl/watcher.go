package crawl

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/store"
)

// avatarMaxBytes bounds a fetched vCard avatar before handing it to the
// store (matches postgres.Store's own size guard; kept here too so a
// misbehaving remote can't push an oversized payload through the pipe).
const avatarMaxBytes = 1 << 20

// WatcherConfig configures the periodic metrics-refresh pass.
type WatcherConfig struct {
	Store           store.Store
	Client          chatclient.Client
	Logger          *obslog.Logger
	Limiter         *rate.Limiter
	ExpireAfter     time.Duration
	AvatarWhitelist []string

	// IsActive reports whether InsideObserver currently holds addr joined;
	// Watcher only refreshes rooms it is not already joined to (spec §4.5).
	IsActive func(addr string) bool
}

type watcher struct {
	cfg WatcherConfig
}

// NewWatcher builds the PeriodicJob that refreshes metrics for inactive
// rooms, grounded on original_source/muchopper/bot/watcher.py.
func NewWatcher(cfg WatcherConfig) (*PeriodicJob, error) {
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 48 * time.Hour
	}
	w := &watcher{cfg: cfg}
	return NewPeriodicJob(PeriodicJobConfig{
		Name:         "watcher",
		Workers:      8,
		MinInterval:  time.Hour,
		ProcessDelay: 50 * time.Millisecond,
		Timeout:      60 * time.Second,
		Logger:       cfg.Logger,
		GetItems:     w.getItems,
		ProcessItem:  w.processItem,
		AfterPass:    w.afterPass,
	})
}

func (w *watcher) getItems(ctx context.Context) ([]string, error) {
	isActive := w.cfg.IsActive
	if isActive == nil {
		isActive = func(string) bool { return false }
	}
	items, err := w.cfg.Store.GetAllKnownInactiveMUCs(ctx, isActive)
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	return items, nil
}

func (w *watcher) processItem(ctx context.Context, item string) error {
	if w.cfg.Limiter != nil {
		_ = w.cfg.Limiter.Wait(ctx)
	}

	info, err := w.cfg.Client.DiscoInfo(ctx, item, true)
	if err != nil {
		_, permanent, _ := chatclient.ClassifyCondition(err)
		if permanent {
			if w.cfg.Logger != nil {
				w.cfg.Logger.Info(ctx, "muc no longer exists, erasing", "address", item)
			}
			return w.cfg.Store.DeleteAllMUCData(ctx, item)
		}
		return nil
	}

	update := CollectMUCMetadata(info)

	if err := w.cfg.Store.UpdateMUCMetadata(ctx, item, update); err != nil {
		return err
	}

	isPublic, _ := update.IsPublic.Get()
	if isPublic && w.isWhitelisted(item) {
		w.fetchAndStoreAvatar(ctx, item)
	}
	return nil
}

func (w *watcher) isWhitelisted(addr string) bool {
	for _, candidate := range w.cfg.AvatarWhitelist {
		if candidate == addr {
			return true
		}
	}
	return false
}

func (w *watcher) fetchAndStoreAvatar(ctx context.Context, addr string) {
	mimeType, data, err := w.cfg.Client.Avatar(ctx, addr)
	if err != nil {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Info(ctx, "failed to fetch avatar", "address", addr, "error", err)
		}
		return
	}
	if len(data) == 0 || len(data) > avatarMaxBytes {
		return
	}
	if err := w.cfg.Store.UpdateMUCAvatar(ctx, addr, mimeType, data); err != nil && w.cfg.Logger != nil {
		w.cfg.Logger.Warn(ctx, "failed to store avatar", "address", addr, "error", err)
	}
}

func (w *watcher) afterPass(ctx context.Context) error {
	threshold := time.Now().Add(-w.cfg.ExpireAfter)
	return w.cfg.Store.ExpireMUCs(ctx, threshold)
}
