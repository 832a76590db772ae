// Package mirror implements the pub/sub replication protocol between
// directory nodes (spec §4.8/§4.9), grounded on
// original_source/muchopper/bot/mirror.py's MirrorServer/MirrorClient.
package mirror

import (
	"encoding/json"

	"github.com/dukepan/muclumbus/internal/store"
)

// mucsNode is the pub/sub node name items are published to, translating
// xso.StateTransferV1_0Namespaces.MUCS.
const mucsNode = "urn:xmpp:muclumbus:state-transfer:1.0#mucs"

// syncItemMUC is the wire payload mirrored between nodes, carrying the
// fields of mirror.py's xso.SyncItemMUC registered payload. It is encoded
// as JSON; it is not the XML element encoding of that payload.
type syncItemMUC struct {
	Address       string              `json:"address"`
	IsOpen        bool                `json:"is_open"`
	AnonymityMode store.AnonymityMode `json:"anonymity_mode"`
	NUsers        *float64            `json:"nusers,omitempty"`
	Name          *string             `json:"name,omitempty"`
	Language      *string             `json:"language,omitempty"`
	Description   *string             `json:"description,omitempty"`
}

func encodeSyncItem(item syncItemMUC) []byte {
	data, err := json.Marshal(item)
	if err != nil {
		// syncItemMUC has no cyclic/unsupported fields; this cannot fail.
		panic(err)
	}
	return data
}

func decodeSyncItem(data []byte) (syncItemMUC, error) {
	var item syncItemMUC
	err := json.Unmarshal(data, &item)
	return item, err
}

// composeMUCUpdate builds the wire payload for one public room, translating
// MirrorServer._compose_muc_update.
func composeMUCUpdate(room store.Room, public store.PublicRoom) syncItemMUC {
	item := syncItemMUC{
		Address:       room.Address,
		IsOpen:        room.IsOpen,
		AnonymityMode: room.AnonymityMode,
		Name:          public.Name,
		Language:      public.Language,
		Description:   public.Description,
	}
	if room.NUsersMovingAverage != nil {
		item.NUsers = room.NUsersMovingAverage
	}
	return item
}

// applyToStore persists a received sync item into the local store,
// translating MirrorClient._unwrap_item_into_state.
func applyToStore(item syncItemMUC) store.MUCMetadataUpdate {
	update := store.MUCMetadataUpdate{
		IsOpen:        store.Some(item.IsOpen),
		AnonymityMode: store.Some(item.AnonymityMode),
		IsSaveable:    store.Some(true),
		IsPublic:      store.Some(true),
	}
	if item.NUsers != nil {
		update.NUsers = store.Some(int(*item.NUsers))
	}
	if item.Name != nil {
		update.Name = store.Some(*item.Name)
	}
	if item.Language != nil {
		update.Language = store.Some(*item.Language)
	}
	if item.Description != nil {
		update.Description = store.Some(*item.Description)
	}
	return update
}
