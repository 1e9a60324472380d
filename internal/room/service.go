// Package room holds the membership policy and the room-state
// synchronizer: who is in a room, and how client mutations are applied
// and echoed back.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coderoom-io/coderoom/internal/models"
	"github.com/coderoom-io/coderoom/internal/repository"
)

// ErrUsernameRequired rejects a join with a blank or whitespace-only
// username. Reported to the joining connection only, never broadcast.
var ErrUsernameRequired = errors.New("username is required")

// Presence is the member view sent to clients in join and
// user-disconnected broadcasts.
type Presence struct {
	Username string `json:"username"`
	SocketID string `json:"socketId"`
}

type Service struct {
	repo   repository.RoomRepository
	logger *zap.Logger
}

func NewService(repo repository.RoomRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Join registers the connection in the room and returns the snapshot for
// the joiner plus the deduplicated member list for the room broadcast.
// Joining is an upsert by identity: any member with the same username or
// the same socketID is evicted first, so retries and duplicate tabs
// resolve by last-join-wins.
func (s *Service) Join(ctx context.Context, roomID, username, socketID string) (models.Snapshot, []Presence, error) {
	if strings.TrimSpace(username) == "" {
		return models.Snapshot{}, nil, ErrUsernameRequired
	}

	if _, err := s.repo.FindOrCreate(ctx, roomID); err != nil {
		return models.Snapshot{}, nil, err
	}
	if err := s.repo.AddMember(ctx, roomID, username, socketID); err != nil {
		return models.Snapshot{}, nil, err
	}

	updated, err := s.repo.FindOne(ctx, roomID)
	if err != nil {
		return models.Snapshot{}, nil, err
	}
	if updated == nil {
		return models.Snapshot{}, nil, repository.ErrNotFound
	}

	return updated.Snapshot(), dedupeMembers(updated.Members), nil
}

// Disconnect removes the member bound to a closed connection and returns
// the remaining member list for the user-disconnected broadcast. An empty
// room is left for the periodic sweep; disconnect stays cheap.
func (s *Service) Disconnect(ctx context.Context, roomID, username string) ([]Presence, error) {
	if err := s.repo.RemoveMember(ctx, roomID, username); err != nil {
		return nil, err
	}

	updated, err := s.repo.FindOne(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, repository.ErrNotFound
	}
	return dedupeMembers(updated.Members), nil
}

// SetCode is last-write-wins full-text replacement: no diffing, no merge.
// Concurrent writers to the same file clobber each other by network
// timing; that is the accepted model.
func (s *Service) SetCode(ctx context.Context, roomID string, fileID int64, code string) error {
	return s.repo.UpdateCode(ctx, roomID, fileID, code)
}

func (s *Service) SetLanguage(ctx context.Context, roomID string, fileID int64, lang models.Language) error {
	return s.repo.UpdateLanguage(ctx, roomID, fileID, lang)
}

// SetOutput stores the execution collaborator's result verbatim. The
// payload is opaque to the server.
func (s *Service) SetOutput(ctx context.Context, roomID string, output json.RawMessage) error {
	return s.repo.UpdateState(ctx, roomID, models.RoomPatch{OutputDetails: &output})
}

// ApplyPatch applies a sparse multi-field update — the channel used for
// file and folder create/rename/delete/move from the explorer. Present
// fields replace the room's collections wholesale.
func (s *Service) ApplyPatch(ctx context.Context, roomID string, patch models.RoomPatch) error {
	return s.repo.UpdateState(ctx, roomID, patch)
}

// RunCleanup sweeps empty rooms on a fixed interval, with one early pass
// shortly after startup. Empty rooms are garbage, not errors, so nothing
// in the join/disconnect path deletes them synchronously.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	startupDelay := time.NewTimer(10 * time.Second)
	defer startupDelay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-startupDelay.C:
		s.sweep(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	removed, err := s.repo.CleanupEmptyRooms(ctx)
	if err != nil {
		s.logger.Error("cleanup empty rooms", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("cleaned up empty rooms", zap.Int64("removed", removed))
	}
}

// dedupeMembers collapses duplicate usernames at the read boundary. Write
// paths already enforce uniqueness, but the broadcast list defends against
// momentary duplicates anyway. First occurrence wins; order is preserved.
func dedupeMembers(members []models.Member) []Presence {
	seen := make(map[string]struct{}, len(members))
	out := make([]Presence, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.Username]; ok {
			continue
		}
		seen[m.Username] = struct{}{}
		out = append(out, Presence{Username: m.Username, SocketID: m.SocketID})
	}
	return out
}
