package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/coderoom-io/coderoom/internal/models"
	"github.com/coderoom-io/coderoom/internal/repository"
)

func TestFindOrCreateDefaults(t *testing.T) {
	store := NewRoomStore()

	room, err := store.FindOrCreate(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if room.RoomID != "room-1" {
		t.Errorf("Expected roomId room-1, got %s", room.RoomID)
	}
	if room.CurrentLanguage != models.DefaultLanguage() {
		t.Errorf("Expected default language, got %+v", room.CurrentLanguage)
	}
	if len(room.Files) != 0 || len(room.Members) != 0 {
		t.Error("New room should have empty collections")
	}
}

func TestFindOrCreateConcurrent(t *testing.T) {
	store := NewRoomStore()

	var wg sync.WaitGroup
	results := make([]*models.Room, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := store.FindOrCreate(context.Background(), "room-42")
			if err != nil {
				t.Errorf("FindOrCreate failed: %v", err)
				return
			}
			results[i] = room
		}(i)
	}
	wg.Wait()

	for i, room := range results {
		if room == nil || room.RoomID != "room-42" {
			t.Fatalf("Caller %d observed wrong room: %+v", i, room)
		}
	}

	store.mu.RLock()
	count := len(store.rooms)
	store.mu.RUnlock()
	if count != 1 {
		t.Errorf("Expected exactly 1 persisted room, got %d", count)
	}
}

func TestFindOneAbsent(t *testing.T) {
	store := NewRoomStore()

	room, err := store.FindOne(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindOne should not error on absence: %v", err)
	}
	if room != nil {
		t.Errorf("Expected nil for missing room, got %+v", room)
	}
}

func TestUpdateStateSparsePatch(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	store.FindOrCreate(ctx, "room-1")

	files := []models.File{{ID: 7, Name: "main.js", Content: "x=1"}}
	folders := []models.Folder{{ID: 1, Name: "src"}}
	err := store.UpdateState(ctx, "room-1", models.RoomPatch{Files: &files, Folders: &folders, ExplorerFiles: &files})
	if err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	active := 3
	if err := store.UpdateState(ctx, "room-1", models.RoomPatch{ActiveFile: &active}); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	room, _ := store.FindOne(ctx, "room-1")
	if room.ActiveFile != 3 {
		t.Errorf("Expected activeFile 3, got %d", room.ActiveFile)
	}
	if len(room.Files) != 1 || len(room.Folders) != 1 || len(room.ExplorerFiles) != 1 {
		t.Error("Sparse patch touched collections it should have left alone")
	}
}

func TestUpdateStateMissingRoom(t *testing.T) {
	store := NewRoomStore()

	active := 1
	err := store.UpdateState(context.Background(), "missing", models.RoomPatch{ActiveFile: &active})
	if err != repository.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCodeMirrorsFileContent(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	store.FindOrCreate(ctx, "room-1")

	files := []models.File{{ID: 7, Name: "main.js", Content: "old"}, {ID: 8, Name: "util.js", Content: "keep"}}
	store.UpdateState(ctx, "room-1", models.RoomPatch{Files: &files, ExplorerFiles: &files})

	if err := store.UpdateCode(ctx, "room-1", 7, "x=1"); err != nil {
		t.Fatalf("UpdateCode failed: %v", err)
	}

	room, _ := store.FindOne(ctx, "room-1")
	if room.CurrentCode != "x=1" {
		t.Errorf("Expected currentCode x=1, got %q", room.CurrentCode)
	}
	for _, list := range [][]models.File{room.Files, room.ExplorerFiles} {
		if list[0].Content != "x=1" {
			t.Errorf("File 7 content not mirrored: %q", list[0].Content)
		}
		if list[1].Content != "keep" {
			t.Errorf("File 8 should be untouched, got %q", list[1].Content)
		}
	}
}

func TestUpdateLanguageMirrorsFileLanguage(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	store.FindOrCreate(ctx, "room-1")

	files := []models.File{{ID: 7, Name: "main.py", Language: models.DefaultLanguage()}}
	store.UpdateState(ctx, "room-1", models.RoomPatch{Files: &files, ExplorerFiles: &files})

	python := models.Language{Value: "python", Label: "Python", Name: "Python"}
	if err := store.UpdateLanguage(ctx, "room-1", 7, python); err != nil {
		t.Fatalf("UpdateLanguage failed: %v", err)
	}

	room, _ := store.FindOne(ctx, "room-1")
	if room.CurrentLanguage != python {
		t.Errorf("Expected currentLanguage python, got %+v", room.CurrentLanguage)
	}
	if room.Files[0].Language != python || room.ExplorerFiles[0].Language != python {
		t.Error("File language not mirrored in both collections")
	}
}

func TestAddMemberEvictsByUsernameAndSocket(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	store.FindOrCreate(ctx, "room-1")

	store.AddMember(ctx, "room-1", "alice", "sock-1")
	store.AddMember(ctx, "room-1", "bob", "sock-2")

	// alice rejoins from a new tab: her old row goes, the new socket wins.
	store.AddMember(ctx, "room-1", "alice", "sock-3")

	room, _ := store.FindOne(ctx, "room-1")
	if len(room.Members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(room.Members))
	}
	var alice *models.Member
	for i := range room.Members {
		if room.Members[i].Username == "alice" {
			alice = &room.Members[i]
		}
	}
	if alice == nil || alice.SocketID != "sock-3" {
		t.Errorf("Expected alice bound to sock-3, got %+v", alice)
	}

	// sock-2 rebinds to a different username: bob's row goes too.
	store.AddMember(ctx, "room-1", "carol", "sock-2")
	room, _ = store.FindOne(ctx, "room-1")
	for _, m := range room.Members {
		if m.Username == "bob" {
			t.Error("bob should have been evicted by socket reuse")
		}
	}
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	store.FindOrCreate(ctx, "room-1")
	store.AddMember(ctx, "room-1", "alice", "sock-1")

	if err := store.RemoveMember(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	room, _ := store.FindOne(ctx, "room-1")
	if len(room.Members) != 0 {
		t.Errorf("Expected 0 members, got %d", len(room.Members))
	}

	// Removing again is a no-op, not an error.
	if err := store.RemoveMember(ctx, "room-1", "alice"); err != nil {
		t.Errorf("Second remove should be a no-op: %v", err)
	}
}

func TestCleanupEmptyRooms(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	store.FindOrCreate(ctx, "empty-1")
	store.FindOrCreate(ctx, "empty-2")
	store.FindOrCreate(ctx, "occupied")
	store.AddMember(ctx, "occupied", "alice", "sock-1")

	removed, err := store.CleanupEmptyRooms(ctx)
	if err != nil {
		t.Fatalf("CleanupEmptyRooms failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 rooms removed, got %d", removed)
	}

	if room, _ := store.FindOne(ctx, "occupied"); room == nil {
		t.Error("Occupied room should survive the sweep")
	}
	if room, _ := store.FindOne(ctx, "empty-1"); room != nil {
		t.Error("Empty room should be gone")
	}
}

func TestOutputDetailsStoredVerbatim(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	store.FindOrCreate(ctx, "room-1")

	output := json.RawMessage(`{"status":{"id":3},"stdout":"aGk="}`)
	if err := store.UpdateState(ctx, "room-1", models.RoomPatch{OutputDetails: &output}); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	room, _ := store.FindOne(ctx, "room-1")
	if string(room.OutputDetails) != string(output) {
		t.Errorf("Output payload altered: %s", room.OutputDetails)
	}
}
