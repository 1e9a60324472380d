package ws

import (
	"encoding/json"
	"fmt"

	"github.com/coderoom-io/coderoom/internal/models"
	"github.com/coderoom-io/coderoom/internal/room"
)

// Wire event names. Inbound and outbound events share the same envelope:
// a JSON text frame {"event": ..., "data": ...}.
const (
	EventJoin             = "join"
	EventJoinError        = "join-error"
	EventRoomState        = "room-state"
	EventCodeChange       = "code-change"
	EventSyncCode         = "sync-code"
	EventLanguageChange   = "language:change"
	EventOutputDetails    = "output-details"
	EventRoomStateUpdate  = "room-state-update"
	EventUserDisconnected = "user-disconnected"
)

// Envelope frames every message on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func marshalEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", event, err)
	}
	out, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return out, nil
}

// joinRequest is the client's join intent.
type joinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// membershipEvent is broadcast to the whole room on join and disconnect.
// Clients is already deduplicated by username.
type membershipEvent struct {
	Clients  []room.Presence `json:"clients"`
	Username string          `json:"username"`
	SocketID string          `json:"socketId"`
}

type codeChangeIn struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
	FileID int64  `json:"fileId"`
}

// codeChangeOut omits roomId: recipients are already scoped to the room.
// FileID is a pointer so the point-to-point sync-code relay (which carries
// no file) serializes without a bogus fileId of 0.
type codeChangeOut struct {
	Code   string `json:"code"`
	FileID *int64 `json:"fileId,omitempty"`
}

type syncCodeIn struct {
	SocketID string `json:"socketId"`
	Code     string `json:"code"`
}

type languageChangeIn struct {
	RoomID   string          `json:"roomId"`
	Language models.Language `json:"language"`
	FileID   int64           `json:"fileId"`
}

type languageChangeOut struct {
	Language models.Language `json:"language"`
	FileID   int64           `json:"fileId"`
}

type outputDetailsIn struct {
	RoomID        string          `json:"roomId"`
	OutputDetails json.RawMessage `json:"outputDetails"`
}

type outputDetailsOut struct {
	OutputDetails json.RawMessage `json:"outputDetails"`
}

// roomStateUpdateIn keeps stateData raw so the broadcast can echo the
// sender's patch byte-for-byte; the typed RoomPatch is decoded from it
// only for persistence.
type roomStateUpdateIn struct {
	RoomID    string          `json:"roomId"`
	StateData json.RawMessage `json:"stateData"`
}
