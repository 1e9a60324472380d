package repository

import (
	"context"
	"errors"

	"github.com/coderoom-io/coderoom/internal/models"
)

// ErrNotFound is returned by mutation methods when no room matches the
// given roomID. Lookup methods signal absence with nil, nil instead.
var ErrNotFound = errors.New("room not found")

// RoomRepository is the storage contract for room documents. Two
// implementations exist: postgres (durable) and memory (fallback when the
// database is unreachable at startup). Callers depend only on this
// contract, never on which backend is active.
//
// Every method that touches multiple fields does so in one atomic apply
// keyed by roomID — handlers interleave at await points, so correctness
// can never rest on a read-modify-write spanning two calls.
type RoomRepository interface {
	// FindOrCreate returns the room for roomID, creating an empty one if
	// absent. Concurrent creators for the same roomID converge on a single
	// persisted room; the losing caller gets the winner's row.
	FindOrCreate(ctx context.Context, roomID string) (*models.Room, error)

	// FindOne returns the room or nil, nil when it does not exist.
	FindOne(ctx context.Context, roomID string) (*models.Room, error)

	// UpdateState applies a sparse patch: exactly the present fields are
	// replaced, absent fields are untouched, updated_at is bumped.
	UpdateState(ctx context.Context, roomID string, patch models.RoomPatch) error

	// UpdateCode replaces currentCode and the content of the file with
	// fileID in both files and explorerFiles, in one atomic apply.
	UpdateCode(ctx context.Context, roomID string, fileID int64, code string) error

	// UpdateLanguage replaces currentLanguage and the language of the file
	// with fileID in both files and explorerFiles.
	UpdateLanguage(ctx context.Context, roomID string, fileID int64, lang models.Language) error

	// AddMember removes any member with the same username OR the same
	// socketID, then appends a fresh member record. Idempotent under
	// retries; duplicate tabs resolve by last-join-wins.
	AddMember(ctx context.Context, roomID, username, socketID string) error

	// RemoveMember removes the member with the given username. No-op if
	// absent.
	RemoveMember(ctx context.Context, roomID, username string) error

	// UpdateMemberSocket rebinds an existing member to a new connection and
	// refreshes lastActive.
	UpdateMemberSocket(ctx context.Context, roomID, username, socketID string) error

	// CleanupEmptyRooms deletes every room with zero members and returns
	// how many were removed.
	CleanupEmptyRooms(ctx context.Context) (int64, error)
}
