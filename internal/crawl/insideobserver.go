package crawl

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/store"
)

// InsideObserverConfig configures the room-joining shuffle loop.
type InsideObserverConfig struct {
	Store    store.Store
	Client   chatclient.Client
	Analyser *Analyser
	Logger   *obslog.Logger

	Nickname        string
	NRooms          int
	FixedShare      float64
	MinUsers        int
	ShuffleInterval time.Duration
}

// InsideObserver joins a rotating subset of joinable rooms and observes
// their traffic via RoomHandler, grounded on
// original_source/muchopper/bot/insideman.py's InsideMan. joined is shared
// between the Run loop's goroutine, the per-room completion goroutines
// join spawns, and IsActive's callers (the Watcher's worker pool), so every
// access goes through mu.
type InsideObserver struct {
	cfg InsideObserverConfig

	mu     sync.Mutex
	joined map[string]*joinedRoom

	stopped chan struct{}
}

type joinedRoom struct {
	handle  chatclient.RoomHandle
	handler *RoomHandler
	cancel  context.CancelFunc
}

// NewInsideObserver constructs an observer with sensible defaults matching
// InsideMan's class attributes.
func NewInsideObserver(cfg InsideObserverConfig) *InsideObserver {
	if cfg.Nickname == "" {
		cfg.Nickname = "muchopper"
	}
	if cfg.NRooms == 0 {
		cfg.NRooms = 500
	}
	if cfg.FixedShare == 0 {
		cfg.FixedShare = 0.4
	}
	if cfg.MinUsers == 0 {
		cfg.MinUsers = 2
	}
	if cfg.ShuffleInterval == 0 {
		cfg.ShuffleInterval = 3 * time.Hour
	}
	return &InsideObserver{cfg: cfg, joined: make(map[string]*joinedRoom), stopped: make(chan struct{})}
}

// IsActive reports whether addr is currently joined, used by Watcher to
// skip rooms InsideObserver already covers.
func (o *InsideObserver) IsActive(addr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.joined[addr]
	return ok
}

// Run loops forever reshuffling the joined-room set until ctx is cancelled.
func (o *InsideObserver) Run(ctx context.Context) {
	defer close(o.stopped)
	for {
		if err := o.shuffle(ctx); err != nil {
			if o.cfg.Logger != nil {
				o.cfg.Logger.Warn(ctx, "reshuffle failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.ShuffleInterval):
		}
	}
}

func (o *InsideObserver) shuffle(ctx context.Context) error {
	rooms, err := o.cfg.Store.GetJoinableRoomsWithUserCount(ctx, o.cfg.MinUsers)
	if err != nil {
		return err
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].NUsers > rooms[j].NUsers })

	nFixed := int(o.cfg.FixedShare*float64(o.cfg.NRooms) + 0.5)
	if nFixed > len(rooms) {
		nFixed = len(rooms)
	}

	var fixed []string
	for _, r := range rooms[:nFixed] {
		if r.NUsers > 2 {
			fixed = append(fixed, r.Address)
		}
	}
	remaining := rooms[nFixed:]

	nRandom := o.cfg.NRooms - len(fixed)
	rand.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })
	var random []string
	for i := 0; i < nRandom && i < len(remaining); i++ {
		random = append(random, remaining[i].Address)
	}

	next := make(map[string]struct{}, len(fixed)+len(random))
	for _, addr := range fixed {
		next[addr] = struct{}{}
	}
	for _, addr := range random {
		next[addr] = struct{}{}
	}

	for addr := range next {
		if !o.IsActive(addr) {
			o.join(ctx, addr)
		}
	}
	for addr, room := range o.snapshotJoined() {
		if _, stillWanted := next[addr]; !stillWanted {
			o.leave(ctx, addr, room)
		}
	}
	return nil
}

// snapshotJoined returns a point-in-time copy of joined so callers can
// range over it and call leave (which may block on a network round trip)
// without holding mu for the duration.
func (o *InsideObserver) snapshotJoined() map[string]*joinedRoom {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := make(map[string]*joinedRoom, len(o.joined))
	for addr, room := range o.joined {
		snapshot[addr] = room
	}
	return snapshot
}

func (o *InsideObserver) join(ctx context.Context, addr string) {
	handle, err := o.cfg.Client.MUCJoin(ctx, addr, o.cfg.Nickname, 0)
	if err != nil {
		if o.cfg.Logger != nil {
			o.cfg.Logger.Debug(ctx, "failed to join room", "address", addr, "error", err)
		}
		return
	}

	handlerCtx, cancel := context.WithCancel(context.Background())
	handler := NewRoomHandler(addr, handle, o.cfg.Store, o.cfg.Logger, o.submitReferral)

	o.mu.Lock()
	o.joined[addr] = &joinedRoom{handle: handle, handler: handler, cancel: cancel}
	o.mu.Unlock()

	go handler.Run(handlerCtx)
	go func() {
		<-handler.Stopped()
		o.mu.Lock()
		delete(o.joined, addr)
		o.mu.Unlock()
	}()
}

func (o *InsideObserver) leave(ctx context.Context, addr string, room *joinedRoom) {
	_ = room.handle.Leave(ctx)
	room.cancel()
	o.mu.Lock()
	delete(o.joined, addr)
	o.mu.Unlock()
}

// submitReferral forwards a candidate address extracted from a room's
// messages to the Analyser, recording the referral only once the address
// classifies as indexable (spec §4.6).
func (o *InsideObserver) submitReferral(ctx context.Context, fromRoom, candidate string, score int) {
	if score == 0 {
		return
	}
	_ = o.cfg.Analyser.SubmitNoWait(candidate, false, func(address string, meta store.AddressMetadata) {
		if meta.IsIndexable {
			_ = o.cfg.Store.StoreReferral(context.Background(), fromRoom, address, time.Now())
		}
	})
}
