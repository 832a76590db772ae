package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/store"
	"github.com/dukepan/muclumbus/internal/workerpool"
)

const (
	transferWorkers   = 32
	transferQueue     = 64
	transferBatch     = 64
	collectiveTimeout = 120 * time.Second
)

// ClientConfig configures MirrorClient (spec §4.9).
type ClientConfig struct {
	Store   store.Store
	Pubsub  chatclient.Pubsub
	Service string // the source: the remote service to mirror from
	Logger  *obslog.Logger
}

// Client subscribes to a remote MirrorServer's node, performs a one-time
// bulk transfer, then applies push-driven item_published/item_retracted
// updates, grounded on mirror.py's MirrorClient. Per spec §4.9, a running
// Client must never be composed with any component that writes to the
// store directly (enforced at the config layer, see internal/config).
type Client struct {
	cfg ClientConfig
}

// NewClient constructs a mirror subscriber.
func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg}
}

// Start subscribes to the remote node, runs the initial bulk transfer, and
// begins applying push updates from events. Call once after the chat
// client has connected; events should be the channel Subscribe returned.
func (c *Client) Start(ctx context.Context) (<-chan chatclient.PubsubEvent, error) {
	events, err := c.cfg.Pubsub.Subscribe(ctx, c.cfg.Service, mucsNode)
	if err != nil {
		return nil, err
	}

	if err := c.initialTransfer(ctx); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Error(ctx, "mirror initial transfer failed", "error", err)
	}

	go c.applyPushUpdates(ctx, events)
	return events, nil
}

// initialTransfer downloads every item the remote node currently lists,
// applies each to the store, then deletes local MUCs the remote no longer
// has, translating MirrorClient._on_stream_established's init-sync block.
func (c *Client) initialTransfer(ctx context.Context) error {
	ids, err := c.cfg.Pubsub.ListItemIDs(ctx, c.cfg.Service, mucsNode)
	if err != nil {
		return err
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "mirror init-sync: beginning transfer", "remote_count", len(ids))
	}

	remaining := make(map[string]bool, len(ids))
	var mu sync.Mutex
	for _, id := range ids {
		remaining[id] = true
	}

	pool, err := workerpool.New(workerpool.Config{
		Workers:      transferWorkers,
		MaxQueueSize: transferQueue,
	}, func(ctx context.Context, item any) error {
		id, _ := item.(string)
		c.downloadAndMerge(ctx, id, &mu, remaining)
		return nil
	})
	if err != nil {
		return err
	}

	transferCtx, cancel := context.WithTimeout(ctx, collectiveTimeout)
	defer cancel()

	for _, batch := range chopToBatches(ids, transferBatch) {
		for _, id := range batch {
			if err := pool.Enqueue(transferCtx, id); err != nil {
				pool.Close(false)
				pool.Wait()
				return err
			}
		}
	}
	pool.Close(false)
	pool.Wait()

	return c.deleteLocalRoomsNotInRemote(ctx, remaining)
}

func (c *Client) downloadAndMerge(ctx context.Context, id string, mu *sync.Mutex, remaining map[string]bool) {
	items, err := c.cfg.Pubsub.GetItemsByID(ctx, c.cfg.Service, mucsNode, []string{id})
	if err != nil || len(items) == 0 {
		mu.Lock()
		delete(remaining, id)
		mu.Unlock()
		return
	}

	item, err := decodeSyncItem(items[0].Payload)
	if err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Warn(ctx, "mirror: malformed sync item, skipping", "id", id, "error", err)
		}
		return
	}

	update := applyToStore(item)
	if err := c.cfg.Store.UpdateMUCMetadata(ctx, item.Address, update); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Warn(ctx, "mirror: failed to persist transferred item", "address", item.Address, "error", err)
	}
}

// deleteLocalRoomsNotInRemote erases every public room this client knows
// about that the remote no longer lists, translating the init-sync's
// trailing cleanup loop.
func (c *Client) deleteLocalRoomsNotInRemote(ctx context.Context, remote map[string]bool) error {
	addresses, err := c.cfg.Store.GetPublicRoomAddresses(ctx)
	if err != nil {
		return err
	}
	var deleted int
	for _, addr := range addresses {
		if remote[addr] {
			continue
		}
		if err := c.cfg.Store.DeleteAllMUCData(ctx, addr); err != nil && c.cfg.Logger != nil {
			c.cfg.Logger.Warn(ctx, "mirror: failed to delete stale local room", "address", addr, "error", err)
			continue
		}
		deleted++
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "mirror init-sync: state transfer complete", "deleted", deleted)
	}
	return nil
}

// applyPushUpdates consumes steady-state item_published/item_retracted
// notifications until events closes or ctx is done.
func (c *Client) applyPushUpdates(ctx context.Context, events <-chan chatclient.PubsubEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, event)
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, event chatclient.PubsubEvent) {
	if event.Retracted {
		_ = c.cfg.Store.DeleteAllMUCData(ctx, event.Item.ID)
		return
	}

	item, err := decodeSyncItem(event.Item.Payload)
	if err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Warn(ctx, "mirror: malformed push update, skipping", "error", err)
		}
		return
	}
	update := applyToStore(item)
	if err := c.cfg.Store.UpdateMUCMetadata(ctx, item.Address, update); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Warn(ctx, "mirror: failed to apply push update", "address", item.Address, "error", err)
	}
}
