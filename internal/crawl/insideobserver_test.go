package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient/fake"
	"github.com/dukepan/muclumbus/internal/store"
)

type joinableStore struct {
	*fakeStore
	rooms []store.JoinableRoom
}

func (s *joinableStore) GetJoinableRoomsWithUserCount(ctx context.Context, minUsers int) ([]store.JoinableRoom, error) {
	var filtered []store.JoinableRoom
	for _, r := range s.rooms {
		if r.NUsers >= minUsers {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func TestInsideObserverJoinsSelectedRooms(t *testing.T) {
	client := fake.New()
	js := &joinableStore{
		fakeStore: newFakeStore(),
		rooms: []store.JoinableRoom{
			{Address: "big@conf.example", NUsers: 50},
			{Address: "small@conf.example", NUsers: 3},
		},
	}

	obs := NewInsideObserver(InsideObserverConfig{
		Store:    js,
		Client:   client,
		NRooms:   2,
		MinUsers: 2,
	})

	if err := obs.shuffle(context.Background()); err != nil {
		t.Fatalf("shuffle: %v", err)
	}

	if !obs.IsActive("big@conf.example") {
		t.Fatal("expected the high-traffic room to be joined")
	}

	joinedCall := false
	for _, call := range client.Calls {
		if call == "muc_join:big@conf.example" {
			joinedCall = true
		}
	}
	if !joinedCall {
		t.Fatal("expected MUCJoin to be called for the joined room")
	}
}

func TestInsideObserverLeavesRoomsNoLongerSelected(t *testing.T) {
	client := fake.New()
	js := &joinableStore{
		fakeStore: newFakeStore(),
		rooms:     []store.JoinableRoom{{Address: "r1@conf.example", NUsers: 10}},
	}

	obs := NewInsideObserver(InsideObserverConfig{Store: js, Client: client, NRooms: 1, MinUsers: 2})
	if err := obs.shuffle(context.Background()); err != nil {
		t.Fatalf("shuffle: %v", err)
	}
	if !obs.IsActive("r1@conf.example") {
		t.Fatal("expected r1 to be joined on first shuffle")
	}

	js.rooms = nil
	if err := obs.shuffle(context.Background()); err != nil {
		t.Fatalf("second shuffle: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if obs.IsActive("r1@conf.example") {
		t.Fatal("expected r1 to be left once no longer selected")
	}
	room := client.Rooms["r1@conf.example"]
	if room == nil || !room.Left() {
		t.Fatal("expected the room handle's Leave to have been called")
	}
}
