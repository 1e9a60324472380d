// Package memory is the fallback RoomRepository used when Postgres is
// unreachable at startup. Same contract, process-lifetime durability only.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/coderoom-io/coderoom/internal/models"
	"github.com/coderoom-io/coderoom/internal/repository"
)

type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*models.Room)}
}

func (s *RoomStore) FindOrCreate(ctx context.Context, roomID string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = models.NewRoom(roomID)
		s.rooms[roomID] = room
	}
	return cloneRoom(room), nil
}

func (s *RoomStore) FindOne(ctx context.Context, roomID string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return cloneRoom(room), nil
}

func (s *RoomStore) UpdateState(ctx context.Context, roomID string, patch models.RoomPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	patch.Apply(room)
	return nil
}

func (s *RoomStore) UpdateCode(ctx context.Context, roomID string, fileID int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	room.CurrentCode = code
	setFileContent(room.Files, fileID, code)
	setFileContent(room.ExplorerFiles, fileID, code)
	room.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *RoomStore) UpdateLanguage(ctx context.Context, roomID string, fileID int64, lang models.Language) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	room.CurrentLanguage = lang
	setFileLanguage(room.Files, fileID, lang)
	setFileLanguage(room.ExplorerFiles, fileID, lang)
	room.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *RoomStore) AddMember(ctx context.Context, roomID, username, socketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}

	kept := room.Members[:0]
	for _, m := range room.Members {
		if m.Username != username && m.SocketID != socketID {
			kept = append(kept, m)
		}
	}
	now := time.Now().UTC()
	room.Members = append(kept, models.Member{
		Username:   username,
		SocketID:   socketID,
		JoinedAt:   now,
		LastActive: now,
	})
	room.UpdatedAt = now
	return nil
}

func (s *RoomStore) RemoveMember(ctx context.Context, roomID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}

	kept := room.Members[:0]
	for _, m := range room.Members {
		if m.Username != username {
			kept = append(kept, m)
		}
	}
	room.Members = kept
	room.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *RoomStore) UpdateMemberSocket(ctx context.Context, roomID, username, socketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}

	for i := range room.Members {
		if room.Members[i].Username == username {
			room.Members[i].SocketID = socketID
			room.Members[i].LastActive = time.Now().UTC()
		}
	}
	room.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *RoomStore) CleanupEmptyRooms(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, room := range s.rooms {
		if len(room.Members) == 0 {
			delete(s.rooms, id)
			removed++
		}
	}
	return removed, nil
}

func setFileContent(files []models.File, fileID int64, content string) {
	for i := range files {
		if files[i].ID == fileID {
			files[i].Content = content
		}
	}
}

func setFileLanguage(files []models.File, fileID int64, lang models.Language) {
	for i := range files {
		if files[i].ID == fileID {
			files[i].Language = lang
		}
	}
}

// cloneRoom returns a copy deep enough that callers can hold the result
// across handler await points without seeing later in-place mutations.
func cloneRoom(r *models.Room) *models.Room {
	out := *r
	out.Members = append([]models.Member(nil), r.Members...)
	out.Files = append([]models.File(nil), r.Files...)
	out.ExplorerFiles = append([]models.File(nil), r.ExplorerFiles...)
	out.ExpandedFolders = append([]int64(nil), r.ExpandedFolders...)
	out.Folders = make([]models.Folder, len(r.Folders))
	for i, f := range r.Folders {
		out.Folders[i] = f
		out.Folders[i].Files = append([]models.File(nil), f.Files...)
	}
	if r.OutputDetails != nil {
		out.OutputDetails = append([]byte(nil), r.OutputDetails...)
	}
	return &out
}
