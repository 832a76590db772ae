package crawl

import (
	"testing"

	"github.com/dukepan/muclumbus/internal/chatclient"
)

func roomDiscoInfo(features ...string) chatclient.DiscoInfo {
	return chatclient.DiscoInfo{
		Identities: []chatclient.Identity{{Category: "conference", Type: "text", Name: "Test Room"}},
		Features:   append([]string{nsMUC}, features...),
	}
}

func TestClassifyDiscoInfoNonChatService(t *testing.T) {
	info := chatclient.DiscoInfo{Identities: []chatclient.Identity{{Category: "client", Type: "bot"}}}
	meta := ClassifyDiscoInfo(info)
	if meta.IsChatService {
		t.Fatalf("expected non-chat-service classification, got %+v", meta)
	}
}

func TestClassifyDiscoInfoIndexableAndJoinable(t *testing.T) {
	info := roomDiscoInfo(featureMUCPublic, featureMUCPersistent, featureMUCOpen)
	meta := ClassifyDiscoInfo(info)
	if !meta.IsChatService || !meta.IsIndexable || !meta.IsJoinable {
		t.Fatalf("expected joinable+indexable room, got %+v", meta)
	}
}

func TestClassifyDiscoInfoPasswordProtectedNotJoinable(t *testing.T) {
	info := roomDiscoInfo(featureMUCPublic, featureMUCPersistent, featureMUCOpen, featureMUCPassword)
	meta := ClassifyDiscoInfo(info)
	if meta.IsJoinable {
		t.Fatalf("password-protected room should not be joinable, got %+v", meta)
	}
}

func TestCollectMUCMetadataSkipsDetailsWhenNotIndexable(t *testing.T) {
	info := roomDiscoInfo(featureMUCOpen, featureMUCPersistent)
	info.Forms = []chatclient.Form{{
		Type:   roomInfoFormType,
		Fields: map[string][]string{fieldSubject: {"hello"}, fieldOccupants: {"3"}},
	}}

	update := CollectMUCMetadata(info)
	if v, ok := update.NUsers.Get(); !ok || v != 3 {
		t.Fatalf("expected NUsers=3 to be collected regardless of indexability, got %v %v", v, ok)
	}
	if update.Subject.IsSet() {
		t.Fatalf("subject should not be collected for a non-indexable room")
	}
}

func TestCollectMUCMetadataFillsDetailsWhenIndexable(t *testing.T) {
	info := roomDiscoInfo(featureMUCPublic, featureMUCPersistent, featureMUCOpen)
	info.Forms = []chatclient.Form{{
		Type: roomInfoFormType,
		Fields: map[string][]string{
			fieldSubject:     {"subject text"},
			fieldDescription: {"desc text"},
			fieldLanguage:    {"en"},
			fieldOccupants:   {"5"},
		},
	}}

	update := CollectMUCMetadata(info)
	if v, _ := update.Subject.Get(); v != "subject text" {
		t.Fatalf("expected subject to be collected, got %q", v)
	}
	if v, _ := update.Description.Get(); v != "desc text" {
		t.Fatalf("expected description to be collected, got %q", v)
	}
	if v, _ := update.Name.Get(); v != "Test Room" {
		t.Fatalf("expected name from identity, got %q", v)
	}
	if v, _ := update.NUsers.Get(); v != 5 {
		t.Fatalf("expected nusers=5, got %d", v)
	}
}
