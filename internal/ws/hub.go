package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/coderoom-io/coderoom/internal/models"
	"github.com/coderoom-io/coderoom/internal/repository"
	"github.com/coderoom-io/coderoom/internal/room"
)

// Publisher re-publishes room broadcasts so other server instances can fan
// them out to their own connections. Optional; a nil Publisher keeps all
// fan-out local.
type Publisher interface {
	Publish(ctx context.Context, roomID string, frame []byte)
}

// Hub is the connection gateway: it groups live connections by room,
// routes inbound events to the room service, and fans resulting broadcasts
// out to everyone else in the room.
type Hub struct {
	// Registered clients by room, plus an index by socket id for the
	// point-to-point sync-code path. roomOf is the hub's own record of
	// each client's current room: a client that re-joins into a different
	// room must leave its old set, or a later close of its send channel
	// would leave a stale entry that panics the next broadcast there.
	rooms  map[string]map[*Client]bool
	byID   map[string]*Client
	roomOf map[*Client]string
	mu     sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg
	direct     chan *directMsg

	service   *room.Service
	publisher Publisher
	logger    *zap.Logger
}

type broadcastMsg struct {
	roomID string
	frame  []byte
	sender *Client // excluded from delivery; nil delivers to everyone
}

type directMsg struct {
	socketID string
	frame    []byte
}

func NewHub(service *room.Service, publisher Publisher, logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		byID:       make(map[string]*Client),
		roomOf:     make(map[*Client]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg),
		direct:     make(chan *directMsg),
		service:    service,
		publisher:  publisher,
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if prev, ok := h.roomOf[client]; ok && prev != client.roomID {
				h.leaveRoomLocked(client, prev)
			}
			if _, ok := h.rooms[client.roomID]; !ok {
				h.rooms[client.roomID] = make(map[*Client]bool)
			}
			h.rooms[client.roomID][client] = true
			h.roomOf[client] = client.roomID
			h.byID[client.socketID] = client
			count := len(h.rooms[client.roomID])
			h.mu.Unlock()

			h.logger.Info("client joined room",
				zap.String("room_id", client.roomID),
				zap.String("socket_id", client.socketID),
				zap.Int("connections", count),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.byID, client.socketID)
			if prev, ok := h.roomOf[client]; ok {
				delete(h.roomOf, client)
				h.leaveRoomLocked(client, prev)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.rooms[msg.roomID] {
				if client == msg.sender {
					continue
				}
				select {
				case client.send <- msg.frame:
				default:
					// Slow consumer: drop the frame rather than block
					// the room. The client catches up on its next join.
					h.logger.Warn("dropping frame for slow client",
						zap.String("socket_id", client.socketID),
						zap.String("room_id", msg.roomID),
					)
				}
			}
			h.mu.RUnlock()

		case msg := <-h.direct:
			// Direct sends run here so a concurrent unregister cannot
			// close the target's channel between lookup and send.
			h.mu.RLock()
			target, ok := h.byID[msg.socketID]
			h.mu.RUnlock()
			if !ok {
				// Target already disconnected; the backstop sync is
				// best-effort.
				continue
			}
			select {
			case target.send <- msg.frame:
			default:
				h.logger.Warn("dropping direct frame for slow client",
					zap.String("socket_id", msg.socketID),
				)
			}
		}
	}
}

// leaveRoomLocked removes the client from one room's set without closing
// its send channel. Caller holds mu.
func (h *Hub) leaveRoomLocked(client *Client, roomID string) {
	clients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.rooms, roomID)
	}
}

// RemoteFanout delivers a frame published by another instance to the local
// members of the room. Never republished: the broker already filtered out
// our own messages by origin.
func (h *Hub) RemoteFanout(roomID string, frame []byte) {
	h.broadcast <- &broadcastMsg{roomID: roomID, frame: frame}
}

// dispatch routes one inbound envelope. It runs on the owning client's
// read goroutine, so events from a single connection are handled in the
// order they were sent. Failures are logged and the event dropped; only
// the join path reports errors back to the client.
func (h *Hub) dispatch(c *Client, env Envelope) {
	ctx := context.Background()

	switch env.Event {
	case EventJoin:
		h.handleJoin(ctx, c, env.Data)
	case EventCodeChange:
		h.handleCodeChange(ctx, c, env.Data)
	case EventSyncCode:
		h.handleSyncCode(c, env.Data)
	case EventLanguageChange:
		h.handleLanguageChange(ctx, c, env.Data)
	case EventOutputDetails:
		h.handleOutputDetails(ctx, c, env.Data)
	case EventRoomStateUpdate:
		h.handleRoomStateUpdate(ctx, c, env.Data)
	default:
		h.logger.Debug("unknown event", zap.String("event", env.Event))
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, data json.RawMessage) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("malformed join payload", zap.Error(err))
		c.sendEvent(EventJoinError, "Failed to join room")
		return
	}

	snapshot, clients, err := h.service.Join(ctx, req.RoomID, req.Username, c.socketID)
	if errors.Is(err, room.ErrUsernameRequired) {
		c.sendEvent(EventJoinError, "Username is required")
		return
	}
	if err != nil {
		h.logger.Error("join failed",
			zap.String("room_id", req.RoomID),
			zap.String("username", req.Username),
			zap.Error(err),
		)
		c.sendEvent(EventJoinError, "Failed to join room")
		return
	}

	// Bind before registering: the hub resolves "which room am I leaving"
	// from these fields on disconnect.
	c.roomID = req.RoomID
	c.username = req.Username
	h.register <- c

	// Snapshot goes to the joiner only; the membership refresh goes to the
	// whole room, joiner included.
	c.sendEvent(EventRoomState, snapshot)
	h.broadcastRoom(EventJoin, req.RoomID, membershipEvent{
		Clients:  clients,
		Username: req.Username,
		SocketID: c.socketID,
	}, nil)
}

func (h *Hub) handleCodeChange(ctx context.Context, c *Client, data json.RawMessage) {
	var p codeChangeIn
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Warn("malformed code-change payload", zap.Error(err))
		return
	}

	if err := h.service.SetCode(ctx, p.RoomID, p.FileID, p.Code); err != nil {
		h.logDropped("code-change", p.RoomID, err)
		return
	}
	h.broadcastRoom(EventCodeChange, p.RoomID, codeChangeOut{Code: p.Code, FileID: &p.FileID}, c)
}

// handleSyncCode relays a participant's in-memory buffer straight to one
// socket — the best-effort backstop for a newcomer, independent of the
// store snapshot. Nothing is persisted.
func (h *Hub) handleSyncCode(c *Client, data json.RawMessage) {
	var p syncCodeIn
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Warn("malformed sync-code payload", zap.Error(err))
		return
	}
	h.sendDirect(p.SocketID, EventCodeChange, codeChangeOut{Code: p.Code})
}

func (h *Hub) handleLanguageChange(ctx context.Context, c *Client, data json.RawMessage) {
	var p languageChangeIn
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Warn("malformed language:change payload", zap.Error(err))
		return
	}

	if err := h.service.SetLanguage(ctx, p.RoomID, p.FileID, p.Language); err != nil {
		h.logDropped("language:change", p.RoomID, err)
		return
	}
	h.broadcastRoom(EventLanguageChange, p.RoomID, languageChangeOut{Language: p.Language, FileID: p.FileID}, c)
}

func (h *Hub) handleOutputDetails(ctx context.Context, c *Client, data json.RawMessage) {
	var p outputDetailsIn
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Warn("malformed output-details payload", zap.Error(err))
		return
	}

	if err := h.service.SetOutput(ctx, p.RoomID, p.OutputDetails); err != nil {
		h.logDropped("output-details", p.RoomID, err)
		return
	}
	h.broadcastRoom(EventOutputDetails, p.RoomID, outputDetailsOut{OutputDetails: p.OutputDetails}, c)
}

func (h *Hub) handleRoomStateUpdate(ctx context.Context, c *Client, data json.RawMessage) {
	var p roomStateUpdateIn
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Warn("malformed room-state-update payload", zap.Error(err))
		return
	}
	var patch models.RoomPatch
	if err := json.Unmarshal(p.StateData, &patch); err != nil {
		h.logger.Warn("malformed stateData patch", zap.Error(err))
		return
	}

	if err := h.service.ApplyPatch(ctx, p.RoomID, patch); err != nil {
		h.logDropped("room-state-update", p.RoomID, err)
		return
	}
	// The patch is echoed verbatim; recipients replace exactly the
	// fields it carries.
	h.broadcastRoom(EventRoomStateUpdate, p.RoomID, p.StateData, c)
}

// handleDisconnect runs when a connection's read loop ends. Membership is
// removed by username; the room itself is left for the cleanup sweep.
func (h *Hub) handleDisconnect(c *Client) {
	h.unregister <- c

	if c.roomID == "" || c.username == "" {
		return
	}

	clients, err := h.service.Disconnect(context.Background(), c.roomID, c.username)
	if err != nil {
		h.logDropped("disconnect", c.roomID, err)
		return
	}
	h.broadcastRoom(EventUserDisconnected, c.roomID, membershipEvent{
		Clients:  clients,
		Username: c.username,
		SocketID: c.socketID,
	}, nil)
}

func (h *Hub) broadcastRoom(event, roomID string, data any, sender *Client) {
	frame, err := marshalEnvelope(event, data)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	h.broadcast <- &broadcastMsg{roomID: roomID, frame: frame, sender: sender}

	if h.publisher != nil {
		go h.publisher.Publish(context.Background(), roomID, frame)
	}
}

func (h *Hub) sendDirect(socketID, event string, data any) {
	frame, err := marshalEnvelope(event, data)
	if err != nil {
		h.logger.Error("encode direct send", zap.String("event", event), zap.Error(err))
		return
	}
	h.direct <- &directMsg{socketID: socketID, frame: frame}
}

func (h *Hub) logDropped(event, roomID string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		h.logger.Info("event for missing room dropped",
			zap.String("event", event),
			zap.String("room_id", roomID),
		)
		return
	}
	h.logger.Error("event dropped",
		zap.String("event", event),
		zap.String("room_id", roomID),
		zap.Error(err),
	)
}
