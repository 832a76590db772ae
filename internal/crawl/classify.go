// Package crawl implements the discovery pipeline — Analyser, Scanner,
// Watcher, InsideObserver/RoomHandler and InteractionHandler (spec.md
// §4.3–§4.7) — against an injected chatclient.Client and store.Store.
package crawl

import (
	"strconv"

	"github.com/dukepan/muclumbus/internal/chatclient"
	"github.com/dukepan/muclumbus/internal/store"
)

const (
	nsMUC                = "http://jabber.org/protocol/muc"
	featureMUCPublic     = "muc_public"
	featureMUCPersistent = "muc_persistent"
	featureMUCOpen       = "muc_open"
	featureMUCPassword   = "muc_passwordprotected"

	roomInfoFormType   = "http://jabber.org/protocol/muc#roominfo"
	fieldContactJID    = "muc#roominfo_contactjid"
	fieldDescription   = "muc#roominfo_description"
	fieldDescriptionAlt = "muc#roomconfig_roomdesc"
	fieldOccupants     = "muc#roominfo_occupants"
	fieldSubject       = "muc#roominfo_subject"
	fieldLanguage      = "muc#roominfo_lang"
)

func hasIdentity(info chatclient.DiscoInfo, category, typ string) bool {
	for _, id := range info.Identities {
		if id.Category == category && id.Type == typ {
			return true
		}
	}
	return false
}

func hasFeature(info chatclient.DiscoInfo, feature string) bool {
	for _, f := range info.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// ClassifyDiscoInfo is the Go translation of
// original_source/muchopper/bot/utils.py's disco_info_to_address_metadata,
// verbatim in its classification rules.
func ClassifyDiscoInfo(info chatclient.DiscoInfo) store.AddressMetadata {
	if !(hasIdentity(info, "conference", "text") && hasFeature(info, nsMUC)) {
		return store.AddressMetadata{
			IsReachable:   true,
			IsChatService: false,
			IsJoinable:    false,
			IsIndexable:   false,
			IsBanned:      false,
		}
	}

	isIndexable := hasFeature(info, featureMUCPublic) && hasFeature(info, featureMUCPersistent)
	isJoinable := hasFeature(info, featureMUCOpen) &&
		!hasFeature(info, featureMUCPassword) &&
		hasFeature(info, featureMUCPersistent)

	return store.AddressMetadata{
		IsReachable:   true,
		IsChatService: true,
		IsJoinable:    isJoinable,
		IsIndexable:   isIndexable,
		IsBanned:      false,
	}
}

// roomInfoForm extracts the `muc#roominfo` extended-disco data form fields,
// translating utils.get_roominfo.
func roomInfoForm(info chatclient.DiscoInfo) chatclient.Form {
	for _, form := range info.Forms {
		if form.Type == roomInfoFormType {
			return form
		}
	}
	return chatclient.Form{}
}

func formValue(form chatclient.Form, key string) string {
	values := form.Fields[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// CollectMUCMetadata builds the store.MUCMetadataUpdate change set from a
// disco#info response, translating utils.collect_muc_metadata.
func CollectMUCMetadata(info chatclient.DiscoInfo) store.MUCMetadataUpdate {
	meta := ClassifyDiscoInfo(info)
	form := roomInfoForm(info)

	update := store.MUCMetadataUpdate{
		IsSaveable: store.Some(hasFeature(info, featureMUCPersistent)),
		IsOpen:     store.Some(meta.IsJoinable),
		IsPublic:   store.Some(meta.IsIndexable),
	}

	if occupants := formValue(form, fieldOccupants); occupants != "" {
		if n, err := strconv.Atoi(occupants); err == nil {
			update.NUsers = store.Some(n)
		}
	}

	if !meta.IsIndexable {
		return update
	}

	if len(info.Identities) > 0 && info.Identities[0].Name != "" {
		update.Name = store.Some(info.Identities[0].Name)
	}
	if subject := formValue(form, fieldSubject); subject != "" {
		update.Subject = store.Some(subject)
	}
	if description := formValue(form, fieldDescription); description != "" {
		update.Description = store.Some(description)
	} else if alt := formValue(form, fieldDescriptionAlt); alt != "" {
		update.Description = store.Some(alt)
	}
	if lang := formValue(form, fieldLanguage); lang != "" {
		update.Language = store.Some(lang)
	}

	return update
}
