package crawl

import (
	"context"
	"testing"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/chatclient/fake"
)

func TestWatcherProcessItemErasesPermanentlyGoneRoom(t *testing.T) {
	client := fake.New()
	client.DiscoInfoErrors["gone@conf.example"] = &chatclient.RemoteError{Condition: chatclient.ConditionItemNotFound}

	fs := newFakeStore()
	w := &watcher{cfg: WatcherConfig{Store: fs, Client: client}}

	if err := w.processItem(context.Background(), "gone@conf.example"); err != nil {
		t.Fatalf("processItem: %v", err)
	}
	if !fs.deleted["gone@conf.example"] {
		t.Fatal("expected permanently-gone room to be erased")
	}
}

func TestWatcherProcessItemFetchesAvatarForWhitelistedPublicRoom(t *testing.T) {
	client := fake.New()
	client.DiscoInfoResponses["pub@conf.example"] = roomDiscoInfo(featureMUCPublic, featureMUCPersistent, featureMUCOpen)
	client.Avatars["pub@conf.example"] = fake.Avatar{MimeType: "image/png", Data: []byte("png-bytes")}

	fs := newFakeStore()
	w := &watcher{cfg: WatcherConfig{
		Store:           fs,
		Client:          client,
		AvatarWhitelist: []string{"pub@conf.example"},
	}}

	if err := w.processItem(context.Background(), "pub@conf.example"); err != nil {
		t.Fatalf("processItem: %v", err)
	}

	foundAvatarCall := false
	for _, call := range client.Calls {
		if call == "avatar:pub@conf.example" {
			foundAvatarCall = true
		}
	}
	if !foundAvatarCall {
		t.Fatal("expected avatar to be fetched for a whitelisted public room")
	}
}

func TestWatcherSkipsAvatarForNonWhitelistedRoom(t *testing.T) {
	client := fake.New()
	client.DiscoInfoResponses["pub@conf.example"] = roomDiscoInfo(featureMUCPublic, featureMUCPersistent, featureMUCOpen)

	fs := newFakeStore()
	w := &watcher{cfg: WatcherConfig{Store: fs, Client: client}}

	if err := w.processItem(context.Background(), "pub@conf.example"); err != nil {
		t.Fatalf("processItem: %v", err)
	}
	for _, call := range client.Calls {
		if call == "avatar:pub@conf.example" {
			t.Fatal("did not expect an avatar fetch without a whitelist entry")
		}
	}
}
