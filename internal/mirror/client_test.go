package mirror

import (
	"context"
	"testing"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/chatclient/fake"
	"github.com/dukepan/muclumbus/internal/store"
)

func seedRemoteItem(t *testing.T, pubsub chatclient.Pubsub, service, addr string) {
	t.Helper()
	item := chatclient.PubsubItem{ID: addr, Payload: encodeSyncItem(syncItemMUC{Address: addr, IsOpen: true})}
	if err := pubsub.Publish(context.Background(), service, mucsNode, item); err != nil {
		t.Fatalf("seed publish %s: %v", addr, err)
	}
}

func TestClientInitialTransferDownloadsEveryRemoteItem(t *testing.T) {
	client := fake.New()
	pubsub := client.Pubsub()
	seedRemoteItem(t, pubsub, "mirror.example", "room1@conf.example")
	seedRemoteItem(t, pubsub, "mirror.example", "room2@conf.example")

	fs := newFakeStore()
	c := NewClient(ClientConfig{Store: fs, Pubsub: pubsub, Service: "mirror.example"})

	if err := c.initialTransfer(context.Background()); err != nil {
		t.Fatalf("initialTransfer: %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.updates["room1@conf.example"]; !ok {
		t.Fatal("expected room1 to be transferred")
	}
	if _, ok := fs.updates["room2@conf.example"]; !ok {
		t.Fatal("expected room2 to be transferred")
	}
}

func TestClientInitialTransferDeletesLocalRoomsNotOnRemote(t *testing.T) {
	client := fake.New()
	pubsub := client.Pubsub()

	fs := newFakeStore()
	fs.publicRooms["stale-local@conf.example"] = store.PublicRoom{Address: "stale-local@conf.example"}

	c := NewClient(ClientConfig{Store: fs, Pubsub: pubsub, Service: "mirror.example"})
	if err := c.initialTransfer(context.Background()); err != nil {
		t.Fatalf("initialTransfer: %v", err)
	}

	if !fs.deleted["stale-local@conf.example"] {
		t.Fatal("expected the local-only room to be deleted once absent from the remote")
	}
}

func TestClientHandleEventAppliesPushUpdate(t *testing.T) {
	client := fake.New()
	pubsub := client.Pubsub()
	fs := newFakeStore()
	c := NewClient(ClientConfig{Store: fs, Pubsub: pubsub, Service: "mirror.example"})

	item := chatclient.PubsubItem{ID: "room@conf.example", Payload: encodeSyncItem(syncItemMUC{Address: "room@conf.example", IsOpen: true})}
	c.handleEvent(context.Background(), chatclient.PubsubEvent{Item: item})

	if _, ok := fs.updates["room@conf.example"]; !ok {
		t.Fatal("expected push update to be applied")
	}
}

func TestClientHandleEventRetraction(t *testing.T) {
	client := fake.New()
	pubsub := client.Pubsub()
	fs := newFakeStore()
	c := NewClient(ClientConfig{Store: fs, Pubsub: pubsub, Service: "mirror.example"})

	c.handleEvent(context.Background(), chatclient.PubsubEvent{Retracted: true, Item: chatclient.PubsubItem{ID: "gone@conf.example"}})

	if !fs.deleted["gone@conf.example"] {
		t.Fatal("expected retraction to erase local muc data")
	}
}
