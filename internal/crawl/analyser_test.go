package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/chatclient/fake"
	"github.com/dukepan/muclumbus/internal/store"
)

func TestAnalyserPersistsIndexableRoom(t *testing.T) {
	client := fake.New()
	client.DiscoInfoResponses["room@conf.example"] = roomDiscoInfo(featureMUCPublic, featureMUCPersistent, featureMUCOpen)

	fs := newFakeStore()
	var notified string
	analyser, err := NewAnalyser(AnalyserConfig{
		Store:                 fs,
		Client:                client,
		OnJoinableOrIndexable: func(addr string) { notified = addr },
	})
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	defer analyser.Close()

	done := make(chan struct{})
	if err := analyser.Submit(context.Background(), "room@conf.example", false, func(addr string, meta store.AddressMetadata) {
		close(done)
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("analysis callback never fired")
	}

	if notified != "room@conf.example" {
		t.Fatalf("expected OnJoinableOrIndexable to fire, got %q", notified)
	}
	if _, ok := fs.mucs["room@conf.example"]; !ok {
		t.Fatal("expected muc metadata to be persisted")
	}
}

func TestAnalyserCachesBannedAddressAndErasesData(t *testing.T) {
	client := fake.New()
	client.DiscoInfoErrors["room@conf.example"] = &chatclient.RemoteError{Condition: chatclient.ConditionForbidden}

	fs := newFakeStore()
	analyser, err := NewAnalyser(AnalyserConfig{Store: fs, Client: client})
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	defer analyser.Close()

	done := make(chan struct{})
	if err := analyser.Submit(context.Background(), "room@conf.example", false, func(string, store.AddressMetadata) { close(done) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("analysis callback never fired")
	}

	if !fs.deleted["room@conf.example"] {
		t.Fatal("expected banned address's muc data to be erased")
	}
	meta, ok := fs.negative["room@conf.example"]
	if !ok || !meta.meta.IsBanned {
		t.Fatalf("expected banned negative-cache entry, got %+v ok=%v", meta, ok)
	}
}

func TestAnalyserSkipsCachedNonJoinableWithoutFreshLookup(t *testing.T) {
	client := fake.New()
	client.DiscoInfoResponses["room@conf.example"] = roomDiscoInfo(featureMUCPublic, featureMUCPersistent)

	fs := newFakeStore()
	fs.negative["room@conf.example"] = negEntry{meta: store.AddressMetadata{IsReachable: true, IsChatService: true, IsIndexable: true, IsJoinable: false}}

	analyser, err := NewAnalyser(AnalyserConfig{Store: fs, Client: client})
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	defer analyser.Close()

	done := make(chan struct{})
	if err := analyser.Submit(context.Background(), "room@conf.example", false, func(string, store.AddressMetadata) { close(done) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
		t.Fatal("callback should not fire for a cached non-joinable address short-circuited before disco_info")
	case <-time.After(200 * time.Millisecond):
	}

	for _, call := range client.Calls {
		if call == "disco_info:room@conf.example" {
			t.Fatal("expected disco_info not to be called for a cached non-joinable, indexable address")
		}
	}
}

func TestAnalyserSkipsAlreadyBannedAddress(t *testing.T) {
	client := fake.New()
	fs := newFakeStore()
	fs.negative["banned@conf.example"] = negEntry{meta: store.AddressMetadata{IsBanned: true}}

	analyser, err := NewAnalyser(AnalyserConfig{Store: fs, Client: client})
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	defer analyser.Close()

	done := make(chan struct{})
	if err := analyser.Submit(context.Background(), "banned@conf.example", false, func(string, store.AddressMetadata) { close(done) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
		t.Fatal("callback should not fire for a banned address short-circuited before disco_info")
	case <-time.After(200 * time.Millisecond):
	}

	for _, call := range client.Calls {
		if call == "disco_info:banned@conf.example" {
			t.Fatal("expected disco_info not to be called for a banned address")
		}
	}
}
