package models

import (
	"encoding/json"
	"time"
)

// Language describes the editor language attached to a file. The three
// fields are redundant on purpose: `value` is what the execution service
// understands, `label`/`name` are what the UI renders.
type Language struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Name  string `json:"name"`
}

// DefaultLanguage is the descriptor new rooms start with.
func DefaultLanguage() Language {
	return Language{Value: "javascript", Label: "JavaScript", Name: "JavaScript"}
}

// File is a named unit of editable text. The numeric ID is assigned by the
// client at creation time and is unique within the room across `files` and
// `explorerFiles` — both collections reference the same logical file.
type File struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Content   string   `json:"content"`
	Language  Language `json:"language"`
	IsWelcome bool     `json:"isWelcome"`
	FolderID  *int64   `json:"folderId"`
}

// Folder groups files in the explorer tree. Files carries a mirrored subset
// of the room's explorerFiles (those with a matching folderId); nesting is
// expressed through ParentFolderID, not containment.
type Folder struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Files          []File `json:"files"`
	ParentFolderID *int64 `json:"parentFolderId"`
}

// Member is a participant's presence record. Username is unique within a
// room; SocketID tracks the member's current live connection.
type Member struct {
	Username   string    `json:"username"`
	SocketID   string    `json:"socketId"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastActive time.Time `json:"lastActive"`
}

// Room is the unit of collaboration. RoomID is client-supplied and acts as
// the primary key. CurrentLanguage and CurrentCode mirror the active file's
// fields for legacy clients; the File entity is the source of truth.
type Room struct {
	RoomID          string          `json:"roomId"`
	Members         []Member        `json:"members"`
	Files           []File          `json:"files"`
	Folders         []Folder        `json:"folders"`
	ExplorerFiles   []File          `json:"explorerFiles"`
	ExpandedFolders []int64         `json:"expandedFolders"`
	ActiveFile      int             `json:"activeFile"`
	CurrentLanguage Language        `json:"currentLanguage"`
	CurrentCode     string          `json:"currentCode"`
	OutputDetails   json.RawMessage `json:"outputDetails"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// NewRoom returns an empty room with the default language and fresh
// timestamps. Collections are non-nil so they serialize to [] not null.
func NewRoom(roomID string) *Room {
	now := time.Now().UTC()
	return &Room{
		RoomID:          roomID,
		Members:         make([]Member, 0),
		Files:           make([]File, 0),
		Folders:         make([]Folder, 0),
		ExplorerFiles:   make([]File, 0),
		ExpandedFolders: make([]int64, 0),
		ActiveFile:      0,
		CurrentLanguage: DefaultLanguage(),
		CurrentCode:     "",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Snapshot is the point-in-time room state sent to a joining connection.
// Subsequent changes arrive over the broadcast channel, not through this.
type Snapshot struct {
	Files           []File   `json:"files"`
	Folders         []Folder `json:"folders"`
	ExplorerFiles   []File   `json:"explorerFiles"`
	ExpandedFolders []int64  `json:"expandedFolders"`
	ActiveFile      int      `json:"activeFile"`
	CurrentLanguage Language `json:"currentLanguage"`
	CurrentCode     string   `json:"currentCode"`
}

// Snapshot extracts the joiner-facing subset of the room.
func (r *Room) Snapshot() Snapshot {
	return Snapshot{
		Files:           r.Files,
		Folders:         r.Folders,
		ExplorerFiles:   r.ExplorerFiles,
		ExpandedFolders: r.ExpandedFolders,
		ActiveFile:      r.ActiveFile,
		CurrentLanguage: r.CurrentLanguage,
		CurrentCode:     r.CurrentCode,
	}
}

// RoomPatch is a sparse room-state update. A nil field means "leave
// untouched"; a present field replaces the room's value wholesale (clients
// send entire collections, not deltas). Pointer fields make the
// present-field set explicit instead of a loosely typed bag.
type RoomPatch struct {
	Files           *[]File          `json:"files,omitempty"`
	Folders         *[]Folder        `json:"folders,omitempty"`
	ExplorerFiles   *[]File          `json:"explorerFiles,omitempty"`
	ExpandedFolders *[]int64         `json:"expandedFolders,omitempty"`
	ActiveFile      *int             `json:"activeFile,omitempty"`
	CurrentLanguage *Language        `json:"currentLanguage,omitempty"`
	CurrentCode     *string          `json:"currentCode,omitempty"`
	OutputDetails   *json.RawMessage `json:"outputDetails,omitempty"`
}

// IsZero reports whether the patch touches no fields.
func (p RoomPatch) IsZero() bool {
	return p.Files == nil && p.Folders == nil && p.ExplorerFiles == nil &&
		p.ExpandedFolders == nil && p.ActiveFile == nil && p.CurrentLanguage == nil &&
		p.CurrentCode == nil && p.OutputDetails == nil
}

// Apply merges the patch into the room, replacing exactly the present
// fields and bumping UpdatedAt.
func (p RoomPatch) Apply(r *Room) {
	if p.Files != nil {
		r.Files = *p.Files
	}
	if p.Folders != nil {
		r.Folders = *p.Folders
	}
	if p.ExplorerFiles != nil {
		r.ExplorerFiles = *p.ExplorerFiles
	}
	if p.ExpandedFolders != nil {
		r.ExpandedFolders = *p.ExpandedFolders
	}
	if p.ActiveFile != nil {
		r.ActiveFile = *p.ActiveFile
	}
	if p.CurrentLanguage != nil {
		r.CurrentLanguage = *p.CurrentLanguage
	}
	if p.CurrentCode != nil {
		r.CurrentCode = *p.CurrentCode
	}
	if p.OutputDetails != nil {
		r.OutputDetails = *p.OutputDetails
	}
	r.UpdatedAt = time.Now().UTC()
}
