package crawl

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
)

const (
	helloExpire  = time.Hour
	helloMaxSize = 1000
	infoBody     = "Hi! I am the bot feeding the public room directory. Please see there for my Privacy Policy and what I do."
	ackBody      = "Hi, and thank you for your invite. I will consider it. It may take a while until your suggestion is added to the public list. I will not actually join the room, though."
)

// Suggester forwards a candidate address to the Analyser without blocking
// the message-handling loop, mirroring daemon.py's
// suggest_new_address_nonblocking.
type Suggester func(address string, privileged bool)

// PrivilegedEntities reports whether an address bypasses the min_users
// heuristic on invite-driven suggestions. Accepting the interface (rather
// than a static []string) lets the admin API mutate membership at runtime
// through the same instance the handler reads, per spec §9's "Global
// state" Design Note.
type PrivilegedEntities interface {
	Contains(address string) bool
}

// InteractionHandlerConfig configures direct-message/invite handling.
type InteractionHandlerConfig struct {
	Client             chatclient.Client
	Logger             *obslog.Logger
	Suggest            Suggester
	PrivilegedEntities PrivilegedEntities
}

// InteractionHandler replies to direct invites, mediated invites and plain
// chats addressed to the bot, grounded on
// original_source/muchopper/bot/daemon.py's InteractionHandler.
type InteractionHandler struct {
	cfg       InteractionHandlerConfig
	spokenTo  *expiringSet
	closeOnce sync.Once
	done      chan struct{}
}

// NewInteractionHandler constructs a handler ready to Run against client's
// incoming message stream.
func NewInteractionHandler(cfg InteractionHandlerConfig) *InteractionHandler {
	return &InteractionHandler{
		cfg:      cfg,
		spokenTo: newExpiringSet(helloMaxSize, helloExpire),
		done:     make(chan struct{}),
	}
}

// Run consumes messages until the client's channel closes or ctx is done.
func (h *InteractionHandler) Run(ctx context.Context) {
	defer close(h.done)
	messages := h.cfg.Client.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			h.handle(ctx, msg)
		}
	}
}

func (h *InteractionHandler) handle(ctx context.Context, msg chatclient.Message) {
	switch msg.Type {
	case chatclient.MessageError, chatclient.MessageGroupchat:
		return
	}

	if msg.DirectInvite {
		h.handleDirectInvite(ctx, msg)
		return
	}
	if msg.IsInvite {
		h.handleMediatedInvite(ctx, msg)
		return
	}
	h.handleChat(ctx, msg)
}

func (h *InteractionHandler) handleDirectInvite(ctx context.Context, msg chatclient.Message) {
	privileged := h.isPrivileged(msg.From)
	if h.cfg.Suggest != nil {
		h.cfg.Suggest(msg.InviteTo, privileged)
	}
	h.ackOnce(ctx, msg.From, ackBody)
}

func (h *InteractionHandler) handleMediatedInvite(ctx context.Context, msg chatclient.Message) {
	if h.cfg.Suggest != nil {
		h.cfg.Suggest(msg.From, false)
	}
}

func (h *InteractionHandler) handleChat(ctx context.Context, msg chatclient.Message) {
	h.ackOnce(ctx, msg.From, infoBody)
}

// ackOnce sends body to from unless it has already replied within
// helloExpire, mirroring InteractionHandler._spoken_to's LRU dedupe.
func (h *InteractionHandler) ackOnce(ctx context.Context, from, body string) {
	if h.spokenTo.seen(from) {
		return
	}
	if err := h.cfg.Client.SendMessage(ctx, from, body); err != nil && h.cfg.Logger != nil {
		h.cfg.Logger.Debug(ctx, "failed to send canned reply", "to", from, "error", err)
	}
}

func (h *InteractionHandler) isPrivileged(from string) bool {
	if h.cfg.PrivilegedEntities == nil {
		return false
	}
	return h.cfg.PrivilegedEntities.Contains(from)
}

// expiringSet is a size-bounded, TTL-expiring membership set, the Go
// analogue of aioxmpp.cache.LRUDict used for InteractionHandler._spoken_to.
type expiringSet struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List
}

type expiringEntry struct {
	key       string
	expiresAt time.Time
}

func newExpiringSet(maxSize int, ttl time.Duration) *expiringSet {
	return &expiringSet{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// seen reports whether key was already recorded and not yet expired,
// recording it as seen (resetting its expiry) either way.
func (s *expiringSet) seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*expiringEntry)
		wasFresh := now.Before(entry.expiresAt)
		entry.expiresAt = now.Add(s.ttl)
		s.order.MoveToFront(el)
		if wasFresh {
			return true
		}
		return false
	}

	if len(s.entries) >= s.maxSize {
		if back := s.order.Back(); back != nil {
			s.order.Remove(back)
			delete(s.entries, back.Value.(*expiringEntry).key)
		}
	}
	entry := &expiringEntry{key: key, expiresAt: now.Add(s.ttl)}
	el := s.order.PushFront(entry)
	s.entries[key] = el
	return false
}
