package models

import (
	"fmt"
	"strconv"
	"strings"
)

// IDSeparator joins the chat and message parts of a chain id.
const IDSeparator = "__"

// Identity describes a user as denormalized into chains and replies so the
// renderer never needs a join at read time.
type Identity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	// Username is the public handle; empty when the user has none.
	Username string `json:"username,omitempty"`
}

// Reply is one author's current contribution to a chain. Text is stored
// already sanitized; validation happens before the aggregate is touched.
type Reply struct {
	Text      string `json:"text"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// ChainSnapshot is the wire and persistence form of a chain. Restore must
// be a lossless inverse of serialize, so every aggregate field appears here
// as plain data.
type ChainSnapshot struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Creator Identity `json:"by"`
	// Order preserves reply insertion order; Replies is keyed by author id.
	Order   []int64          `json:"order,omitempty"`
	Replies map[int64]Reply  `json:"replies,omitempty"`
	// Timestamps (ns). PrevUpdatedTS trails LastUpdatedTS by exactly one
	// mutation.
	CreatedTS     int64 `json:"created_ts"`
	LastUpdatedTS int64 `json:"last_updated_ts"`
	PrevUpdatedTS int64 `json:"prev_updated_ts"`
	// Lifecycle flags. Older snapshots may omit Public/Anonymous/
	// SharedSurfaces; restore defaults them to false/false/nil.
	Ended     bool `json:"ended,omitempty"`
	Public    bool `json:"is_public,omitempty"`
	Anonymous bool `json:"is_anon,omitempty"`
	// SharedSurfaces lists external message references (inline message ids)
	// that carry a rendering of this chain.
	SharedSurfaces []string `json:"shared_surfaces,omitempty"`
}

// ChainID builds the stable chain id from the anchor surface pair.
func ChainID(chatID int64, messageID int64) string {
	return fmt.Sprintf("%d%s%d", chatID, IDSeparator, messageID)
}

// SplitChainID recovers the anchor chat and message ids from a chain id.
func SplitChainID(id string) (chatID int64, messageID int64, err error) {
	parts := strings.SplitN(id, IDSeparator, 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed chain id: %q", id)
	}
	chatID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chain id: %q", id)
	}
	messageID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chain id: %q", id)
	}
	return chatID, messageID, nil
}
