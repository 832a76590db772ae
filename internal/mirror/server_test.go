package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/chatclient/fake"
	"github.com/dukepan/muclumbus/internal/store"
)

func TestServerReconcilePublishesMissingAndRetractsStale(t *testing.T) {
	client := fake.New()
	pubsub := client.Pubsub()

	// Seed the remote node with one stale item not present locally.
	staleItem := chatclient.PubsubItem{ID: "stale@conf.example", Payload: encodeSyncItem(syncItemMUC{Address: "stale@conf.example"})}
	if err := pubsub.Publish(context.Background(), "mirror.example", mucsNode, staleItem); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	fs := newFakeStore()
	name := "Room"
	fs.publicRooms["fresh@conf.example"] = store.PublicRoom{Name: &name}
	fs.rooms["fresh@conf.example"] = store.Room{Address: "fresh@conf.example", IsOpen: true}

	server, err := NewServer(ServerConfig{Store: fs, Pubsub: pubsub, Service: "mirror.example"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer server.Close()

	if err := server.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	ids, err := pubsub.ListItemIDs(context.Background(), "mirror.example", mucsNode)
	if err != nil {
		t.Fatalf("ListItemIDs: %v", err)
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found["fresh@conf.example"] {
		t.Fatal("expected the local public room to be published")
	}
	if found["stale@conf.example"] {
		t.Fatal("expected the stale remote-only item to be retracted")
	}
}

func TestServerOnRoomDeletedSignalRetracts(t *testing.T) {
	client := fake.New()
	pubsub := client.Pubsub()
	fs := newFakeStore()

	goneItem := chatclient.PubsubItem{ID: "gone@conf.example", Payload: encodeSyncItem(syncItemMUC{Address: "gone@conf.example"})}
	if err := pubsub.Publish(context.Background(), "mirror.example", mucsNode, goneItem); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	server, err := NewServer(ServerConfig{Store: fs, Pubsub: pubsub, Service: "mirror.example"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the init-sync reconcile pass settle

	fs.Signals().OnRoomDeleted.Emit("gone@conf.example")
	time.Sleep(100 * time.Millisecond)

	ids, _ := pubsub.ListItemIDs(context.Background(), "mirror.example", mucsNode)
	for _, id := range ids {
		if id == "gone@conf.example" {
			t.Fatal("expected a deleted room to be retracted, not present")
		}
	}
}
