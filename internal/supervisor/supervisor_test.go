package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient/fake"
	"github.com/dukepan/muclumbus/internal/config"
)

func TestNewWiresOnlyConfiguredComponents(t *testing.T) {
	client := fake.New()
	s, err := New(Config{
		Manifest: config.Manifest{Components: []string{config.ComponentScanner, config.ComponentWatcher}},
		Store:    newFakeStore(),
		Client:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.scanner == nil {
		t.Fatal("expected scanner to be wired")
	}
	if s.watcher == nil {
		t.Fatal("expected watcher to be wired")
	}
	if s.analyser == nil {
		t.Fatal("expected the shared analyser pool to be wired for scanner/watcher")
	}
	if s.insideObs != nil || s.interaction != nil || s.mirrorSrv != nil || s.mirrorClt != nil || s.Search != nil {
		t.Fatal("expected unconfigured components to stay nil")
	}
}

func TestNewWiresSpokesmanSearch(t *testing.T) {
	client := fake.New()
	s, err := New(Config{
		Manifest: config.Manifest{Components: []string{config.ComponentSpokesman}},
		Store:    newFakeStore(),
		Client:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Search == nil {
		t.Fatal("expected search.Service to be wired for the spokesman component")
	}
	if s.analyser != nil {
		t.Fatal("spokesman alone should not need the analyser pool")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	client := fake.New()
	s, err := New(Config{
		Manifest: config.Manifest{Components: []string{config.ComponentInteraction}},
		Store:    newFakeStore(),
		Client:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
