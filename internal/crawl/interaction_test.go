package crawl

import (
	"context"
	"testing"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/chatclient/fake"
)

func TestInteractionHandlerDirectInviteSuggestsAndAcks(t *testing.T) {
	client := fake.New()
	var suggested string
	var privileged bool
	h := NewInteractionHandler(InteractionHandlerConfig{
		Client:  client,
		Suggest: func(addr string, priv bool) { suggested = addr; privileged = priv },
	})

	h.handle(context.Background(), chatclient.Message{
		From:         "alice@example.com",
		DirectInvite: true,
		InviteTo:     "room@conf.example",
	})

	if suggested != "room@conf.example" {
		t.Fatalf("expected suggester to be called with the invited room, got %q", suggested)
	}
	if privileged {
		t.Fatal("expected non-privileged sender")
	}

	foundAck := false
	for _, call := range client.Calls {
		if call == "send:alice@example.com:"+ackBody {
			foundAck = true
		}
	}
	if !foundAck {
		t.Fatal("expected an ack reply to be sent")
	}
}

func TestInteractionHandlerDedupesRepeatedChat(t *testing.T) {
	client := fake.New()
	h := NewInteractionHandler(InteractionHandlerConfig{Client: client})

	h.handle(context.Background(), chatclient.Message{From: "bob@example.com", Body: "hi"})
	h.handle(context.Background(), chatclient.Message{From: "bob@example.com", Body: "hi again"})

	sendCount := 0
	for _, call := range client.Calls {
		if call == "send:bob@example.com:"+infoBody {
			sendCount++
		}
	}
	if sendCount != 1 {
		t.Fatalf("expected exactly one canned reply due to dedupe, got %d", sendCount)
	}
}

type privilegedSet map[string]bool

func (p privilegedSet) Contains(addr string) bool { return p[addr] }

func TestInteractionHandlerPrivilegedDirectInvite(t *testing.T) {
	client := fake.New()
	var privileged bool
	h := NewInteractionHandler(InteractionHandlerConfig{
		Client:             client,
		Suggest:            func(addr string, priv bool) { privileged = priv },
		PrivilegedEntities: privilegedSet{"admin@example.com": true},
	})

	h.handle(context.Background(), chatclient.Message{
		From:         "admin@example.com",
		DirectInvite: true,
		InviteTo:     "room@conf.example",
	})

	if !privileged {
		t.Fatal("expected sender in PrivilegedEntities to be flagged privileged")
	}
}

func TestInteractionHandlerIgnoresGroupchatAndError(t *testing.T) {
	client := fake.New()
	h := NewInteractionHandler(InteractionHandlerConfig{Client: client})

	h.handle(context.Background(), chatclient.Message{From: "room@conf.example/nick", Type: chatclient.MessageGroupchat, Body: "hi"})
	h.handle(context.Background(), chatclient.Message{From: "x@example.com", Type: chatclient.MessageError})

	if len(client.Calls) != 0 {
		t.Fatalf("expected no replies for groupchat/error messages, got %v", client.Calls)
	}
}
