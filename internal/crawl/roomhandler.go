package crawl

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/address"
	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/store"
)

const updateDebounce = 30 * time.Second

// mucJIDPattern scores candidate room references found in message bodies,
// translating insideman.py's RoomHandler.MUCJID_RE.
var mucJIDPattern = regexp.MustCompile(`(?i)(xmpp:)?([^?\s]+)(\?join)?`)

// ReferralFunc records that fromRoom's messages referenced candidate, with
// the match's heuristic score, forwarding it to the Analyser. Grounds
// insideman.py's `process_jid` callback.
type ReferralFunc func(ctx context.Context, fromRoom, candidate string, score int)

// RoomHandler tracks one joined room's lifecycle and debounces metadata
// updates, grounded on insideman.py's RoomHandler. Per spec §9's resolved
// Open Question, it captures its own address via the addr field set at
// construction — never a loop or package-level variable — so the
// exit/failure callback is always unambiguous about which room it
// concerns.
type RoomHandler struct {
	addr  string
	store store.Store
	room  chatclient.RoomHandle
	logger *obslog.Logger

	submitReferral ReferralFunc

	mu              sync.Mutex
	pending         store.MUCMetadataUpdate
	hasPending      bool
	timer           *time.Timer
	lastMessageHour time.Time

	stopped chan struct{}
	once    sync.Once
}

// NewRoomHandler subscribes to room's event stream and starts the debounce
// loop. Call Run in its own goroutine to drive event consumption.
func NewRoomHandler(addr string, room chatclient.RoomHandle, st store.Store, logger *obslog.Logger, submitReferral ReferralFunc) *RoomHandler {
	return &RoomHandler{
		addr:           addr,
		store:          st,
		room:           room,
		logger:         logger,
		submitReferral: submitReferral,
		stopped:        make(chan struct{}),
	}
}

// Address returns the room address this handler was constructed for.
func (h *RoomHandler) Address() string { return h.addr }

// Stopped reports whether the room has exited or failed to join.
func (h *RoomHandler) Stopped() <-chan struct{} { return h.stopped }

// Run consumes room events until the room handle closes its event channel.
func (h *RoomHandler) Run(ctx context.Context) {
	for event := range h.room.Events() {
		switch event.Type {
		case chatclient.RoomEventMessage:
			h.handleMessage(ctx, event)
		case chatclient.RoomEventTopicChanged:
			h.queueUpdate(store.MUCMetadataUpdate{Subject: store.Some(event.Subject)})
		case chatclient.RoomEventJoin, chatclient.RoomEventLeave:
			h.queueUpdate(store.MUCMetadataUpdate{NUsers: store.Some(event.NUsers)})
		case chatclient.RoomEventExit, chatclient.RoomEventFailure:
			h.onStop(ctx, event)
		}
	}
}

func (h *RoomHandler) queueUpdate(delta store.MUCMetadataUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mergeUpdate(&h.pending, delta)
	h.hasPending = true

	if h.timer == nil {
		h.timer = time.AfterFunc(updateDebounce, func() {
			h.flush(context.Background())
		})
	}
}

// mergeUpdate overlays delta's set fields onto base, used to coalesce
// multiple queued field changes into the single update the debounce window
// eventually flushes (insideman.py's _queue_update kwargs merge).
func mergeUpdate(base *store.MUCMetadataUpdate, delta store.MUCMetadataUpdate) {
	if v, ok := delta.NUsers.Get(); ok {
		base.NUsers = store.Some(v)
	}
	if v, ok := delta.Subject.Get(); ok {
		base.Subject = store.Some(v)
	}
	if v, ok := delta.WasKicked.Get(); ok {
		base.WasKicked = store.Some(v)
	}
}

func (h *RoomHandler) flush(ctx context.Context) {
	h.mu.Lock()
	if !h.hasPending {
		h.mu.Unlock()
		return
	}
	update := h.pending
	h.pending = store.MUCMetadataUpdate{}
	h.hasPending = false
	h.timer = nil
	h.mu.Unlock()

	if err := h.store.UpdateMUCMetadata(ctx, h.addr, update); err != nil && h.logger != nil {
		h.logger.Warn(ctx, "failed to flush debounced muc update", "address", h.addr, "error", err)
	}
}

func (h *RoomHandler) handleMessage(ctx context.Context, event chatclient.RoomEvent) {
	hour := event.Timestamp.Truncate(time.Hour)
	if !hour.Equal(h.lastMessageHour) {
		h.lastMessageHour = hour
	}

	if event.Body == "" {
		return
	}
	for _, candidate := range extractCandidates(event.Body) {
		h.submitReferral(ctx, h.addr, candidate.address, candidate.score)
	}
}

type candidateRef struct {
	address string
	score   int
}

// extractCandidates scores substrings of text that look like room
// references, translating RoomHandler._extract_jids.
func extractCandidates(text string) []candidateRef {
	matches := mucJIDPattern.FindAllStringSubmatch(text, -1)
	var result []candidateRef
	for _, m := range matches {
		scheme, addr, query := m[1], m[2], m[3]
		if addr == "" {
			continue
		}
		score := 0
		if scheme != "" {
			score++
		}
		if query != "" {
			score++
		}
		if parsed, err := address.Parse(addr); err == nil && parsed.Localpart != "" {
			score++
		}
		if score == 0 {
			continue
		}
		result = append(result, candidateRef{address: addr, score: score})
	}
	return result
}

// onStop applies insideman.py's _room_handler_stopped classification: an
// auth error or explicit ban deletes the room's data and caches it banned;
// a kick sets was_kicked; any other failure caches the address unreachable.
func (h *RoomHandler) onStop(ctx context.Context, event chatclient.RoomEvent) {
	h.once.Do(func() { close(h.stopped) })

	switch {
	case event.LeaveReason == chatclient.ConditionForbidden || event.LeaveReason == chatclient.ConditionNotAuthorized:
		if h.logger != nil {
			h.logger.Warn(ctx, "banned from room, deleting data", "address", h.addr)
		}
		_ = h.store.CacheAddressMetadata(ctx, h.addr, store.AddressMetadata{
			IsReachable: true, IsChatService: true, IsBanned: true,
		}, store.TTLBanned)
		_ = h.store.DeleteAllMUCData(ctx, h.addr)
		return
	case event.WasKicked:
		h.queueUpdate(store.MUCMetadataUpdate{WasKicked: store.Some(true)})
	default:
		_ = h.store.CacheAddressMetadata(ctx, h.addr, store.AddressMetadata{}, store.TTLUnreachable)
	}
	h.flush(ctx)
}
