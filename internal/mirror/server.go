package mirror

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/store"
	"github.com/dukepan/muclumbus/internal/workerpool"
)

// ServerConfig configures MirrorServer (spec §4.8).
type ServerConfig struct {
	Store   store.Store
	Pubsub  chatclient.Pubsub
	Service string // the publish_target: the service hosting our published node
	Logger  *obslog.Logger
	Limiter *rate.Limiter
}

// Server publishes every public room as a pub/sub item, keeping the node in
// sync with the local store via post-commit signals and a one-time
// reconciliation pass against the node's existing items, grounded on
// original_source/muchopper/bot/mirror.py's MirrorServer.
type Server struct {
	cfg  ServerConfig
	pool *workerpool.Pool
	stop chan struct{}
}

type publishTask struct {
	retract bool
	address string
}

// NewServer constructs a mirror publisher mounted on a small dedicated pool
// (4 workers, queue 512), matching mirror.py's WORKER_POOL_SIZE=4.
func NewServer(cfg ServerConfig) (*Server, error) {
	s := &Server{cfg: cfg, stop: make(chan struct{})}
	pool, err := workerpool.New(workerpool.Config{
		Workers:        4,
		MaxQueueSize:   4 * 128,
		PerTaskTimeout: 30 * time.Second,
		InterTaskDelay: 10 * time.Millisecond,
	}, s.handleItem)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// Start creates/configures the publish node and runs the initial
// reconciliation pass, then subscribes to store signals for steady-state
// updates. Call once after the chat client has connected.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Pubsub.Create(ctx, s.cfg.Service, mucsNode); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Debug(ctx, "mirror node create failed (likely already exists)", "error", err)
		}
	}
	if err := s.cfg.Pubsub.Configure(ctx, s.cfg.Service, mucsNode, chatclient.PubsubNodeConfig{
		AccessModel:  "open",
		PersistItems: true,
		MaxItems:     16777216,
	}); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Warn(ctx, "mirror node configure failed", "error", err)
	}

	if err := s.reconcile(ctx); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Error(ctx, "mirror init-sync failed", "error", err)
	}

	signals := s.cfg.Store.Signals()
	changedToken := signals.OnRoomChanged.Subscribe(func(addr string) { s.enqueueNoWait(addr, false) })
	deletedToken := signals.OnRoomDeleted.Subscribe(func(addr string) { s.enqueueNoWait(addr, true) })
	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
		}
		signals.OnRoomChanged.Unsubscribe(changedToken)
		signals.OnRoomDeleted.Unsubscribe(deletedToken)
	}()
	return nil
}

func (s *Server) enqueueNoWait(addr string, retract bool) {
	if err := s.pool.EnqueueNoWait(publishTask{retract: retract, address: addr}); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Warn(context.Background(), "lost mirror update, queue full", "address", addr, "retract", retract)
	}
}

// reconcile retracts remote items with no local counterpart and publishes
// every local public room missing from the remote node, translating
// MirrorServer._stream_established's init-sync block.
func (s *Server) reconcile(ctx context.Context) error {
	remoteIDs, err := s.cfg.Pubsub.ListItemIDs(ctx, s.cfg.Service, mucsNode)
	if err != nil {
		return err
	}
	remote := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remote[id] = true
	}

	addresses, err := s.cfg.Store.GetPublicRoomAddresses(ctx)
	if err != nil {
		return err
	}

	var created, ok int
	for _, addr := range addresses {
		if remote[addr] {
			delete(remote, addr)
			ok++
			continue
		}
		s.enqueueNoWait(addr, false)
		created++
	}
	for addr := range remote {
		s.enqueueNoWait(addr, true)
	}

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(ctx, "mirror init-sync complete", "created", created, "deleted", len(remote), "already_ok", ok)
	}
	return nil
}

func (s *Server) handleItem(ctx context.Context, item any) error {
	task, ok := item.(publishTask)
	if !ok {
		return nil
	}
	if s.cfg.Limiter != nil {
		_ = s.cfg.Limiter.Wait(ctx)
	}

	if task.retract {
		return s.cfg.Pubsub.Retract(ctx, s.cfg.Service, mucsNode, task.address)
	}

	public, room, isPublic, err := s.cfg.Store.GetPublicRoomView(ctx, task.address)
	if err != nil {
		return err
	}
	if !isPublic {
		return s.cfg.Pubsub.Retract(ctx, s.cfg.Service, mucsNode, task.address)
	}

	payload := encodeSyncItem(composeMUCUpdate(room, public))
	return s.cfg.Pubsub.Publish(ctx, s.cfg.Service, mucsNode, chatclient.PubsubItem{ID: task.address, Payload: payload})
}

// Close shuts down the publish pool.
func (s *Server) Close() {
	close(s.stop)
	s.pool.Close(false)
	s.pool.Wait()
}
