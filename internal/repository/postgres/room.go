package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coderoom-io/coderoom/internal/models"
	"github.com/coderoom-io/coderoom/internal/repository"
)

// RoomStore is the durable RoomRepository backed by Postgres. Collections
// are jsonb columns, so every mutation below is one UPDATE statement —
// the atomic field-set the concurrency model depends on.
type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

const roomColumns = `room_id, members, files, folders, explorer_files,
	expanded_folders, active_file, current_language, current_code,
	output_details, created_at, updated_at`

func (s *RoomStore) FindOrCreate(ctx context.Context, roomID string) (*models.Room, error) {
	lang, err := json.Marshal(models.DefaultLanguage())
	if err != nil {
		return nil, fmt.Errorf("marshal default language: %w", err)
	}

	// ON CONFLICT DO NOTHING makes the creation race benign: both callers
	// fall through to the SELECT and read the same row.
	insert := `
		INSERT INTO rooms (room_id, current_language)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (room_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, roomID, string(lang)); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	room, err := s.FindOne(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		// Deleted between insert and select (cleanup sweep racing a join).
		return nil, repository.ErrNotFound
	}
	return room, nil
}

func (s *RoomStore) FindOne(ctx context.Context, roomID string) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE room_id = $1`

	room, err := scanRoom(s.pool.QueryRow(ctx, query, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (s *RoomStore) UpdateState(ctx context.Context, roomID string, patch models.RoomPatch) error {
	if patch.IsZero() {
		return nil
	}

	set := []string{"updated_at = now()"}
	args := []any{roomID}
	addJSON := func(column string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", column, err)
		}
		args = append(args, string(b))
		set = append(set, fmt.Sprintf("%s = $%d::jsonb", column, len(args)))
		return nil
	}

	if patch.Files != nil {
		if err := addJSON("files", *patch.Files); err != nil {
			return err
		}
	}
	if patch.Folders != nil {
		if err := addJSON("folders", *patch.Folders); err != nil {
			return err
		}
	}
	if patch.ExplorerFiles != nil {
		if err := addJSON("explorer_files", *patch.ExplorerFiles); err != nil {
			return err
		}
	}
	if patch.ExpandedFolders != nil {
		if err := addJSON("expanded_folders", *patch.ExpandedFolders); err != nil {
			return err
		}
	}
	if patch.ActiveFile != nil {
		args = append(args, *patch.ActiveFile)
		set = append(set, fmt.Sprintf("active_file = $%d", len(args)))
	}
	if patch.CurrentLanguage != nil {
		if err := addJSON("current_language", *patch.CurrentLanguage); err != nil {
			return err
		}
	}
	if patch.CurrentCode != nil {
		args = append(args, *patch.CurrentCode)
		set = append(set, fmt.Sprintf("current_code = $%d", len(args)))
	}
	if patch.OutputDetails != nil {
		if len(*patch.OutputDetails) == 0 {
			args = append(args, nil)
		} else {
			args = append(args, string(*patch.OutputDetails))
		}
		set = append(set, fmt.Sprintf("output_details = $%d::jsonb", len(args)))
	}

	query := "UPDATE rooms SET " + strings.Join(set, ", ") + " WHERE room_id = $1"
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update room state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// fileMirrorUpdate rewrites one jsonb file array, patching the element
// whose id matches $2 with the jsonb value in $3 at the given key.
const fileMirrorUpdate = `(
	SELECT coalesce(jsonb_agg(
		CASE WHEN (f->>'id')::bigint = $2
			THEN jsonb_set(f, '{%s}', $3::jsonb)
			ELSE f
		END), '[]'::jsonb)
	FROM jsonb_array_elements(%s) AS f
)`

func (s *RoomStore) UpdateCode(ctx context.Context, roomID string, fileID int64, code string) error {
	codeJSON, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}

	// currentCode is the legacy mirror; the file entity is the source of
	// truth, so both open-tab and explorer copies are rewritten in the
	// same statement.
	query := `
		UPDATE rooms SET
			current_code = $4,
			files = ` + fmt.Sprintf(fileMirrorUpdate, "content", "files") + `,
			explorer_files = ` + fmt.Sprintf(fileMirrorUpdate, "content", "explorer_files") + `,
			updated_at = now()
		WHERE room_id = $1`

	tag, err := s.pool.Exec(ctx, query, roomID, fileID, string(codeJSON), code)
	if err != nil {
		return fmt.Errorf("update code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *RoomStore) UpdateLanguage(ctx context.Context, roomID string, fileID int64, lang models.Language) error {
	langJSON, err := json.Marshal(lang)
	if err != nil {
		return fmt.Errorf("marshal language: %w", err)
	}

	query := `
		UPDATE rooms SET
			current_language = $3::jsonb,
			files = ` + fmt.Sprintf(fileMirrorUpdate, "language", "files") + `,
			explorer_files = ` + fmt.Sprintf(fileMirrorUpdate, "language", "explorer_files") + `,
			updated_at = now()
		WHERE room_id = $1`

	tag, err := s.pool.Exec(ctx, query, roomID, fileID, string(langJSON))
	if err != nil {
		return fmt.Errorf("update language: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *RoomStore) AddMember(ctx context.Context, roomID, username, socketID string) error {
	now := time.Now().UTC()
	entry, err := json.Marshal([]models.Member{{
		Username:   username,
		SocketID:   socketID,
		JoinedAt:   now,
		LastActive: now,
	}})
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}

	// Strip any member with the same username or the same connection, then
	// append the fresh record — one statement, so two racing joins cannot
	// leave a duplicate behind.
	query := `
		UPDATE rooms SET
			members = (
				SELECT coalesce(jsonb_agg(m), '[]'::jsonb)
				FROM jsonb_array_elements(members) AS m
				WHERE m->>'username' <> $2 AND m->>'socketId' <> $3
			) || $4::jsonb,
			updated_at = now()
		WHERE room_id = $1`

	tag, err := s.pool.Exec(ctx, query, roomID, username, socketID, string(entry))
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *RoomStore) RemoveMember(ctx context.Context, roomID, username string) error {
	query := `
		UPDATE rooms SET
			members = (
				SELECT coalesce(jsonb_agg(m), '[]'::jsonb)
				FROM jsonb_array_elements(members) AS m
				WHERE m->>'username' <> $2
			),
			updated_at = now()
		WHERE room_id = $1`

	tag, err := s.pool.Exec(ctx, query, roomID, username)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *RoomStore) UpdateMemberSocket(ctx context.Context, roomID, username, socketID string) error {
	query := `
		UPDATE rooms SET
			members = (
				SELECT coalesce(jsonb_agg(
					CASE WHEN m->>'username' = $2
						THEN m || jsonb_build_object('socketId', $3::text, 'lastActive', to_jsonb(now()))
						ELSE m
					END), '[]'::jsonb)
				FROM jsonb_array_elements(members) AS m
			),
			updated_at = now()
		WHERE room_id = $1`

	tag, err := s.pool.Exec(ctx, query, roomID, username, socketID)
	if err != nil {
		return fmt.Errorf("update member socket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *RoomStore) CleanupEmptyRooms(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM rooms
		WHERE members IS NULL OR jsonb_array_length(members) = 0`

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("cleanup empty rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var (
		room            models.Room
		members         []byte
		files           []byte
		folders         []byte
		explorerFiles   []byte
		expandedFolders []byte
		currentLanguage []byte
		outputDetails   []byte
	)

	err := row.Scan(
		&room.RoomID,
		&members,
		&files,
		&folders,
		&explorerFiles,
		&expandedFolders,
		&room.ActiveFile,
		&currentLanguage,
		&room.CurrentCode,
		&outputDetails,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, col := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"members", members, &room.Members},
		{"files", files, &room.Files},
		{"folders", folders, &room.Folders},
		{"explorer_files", explorerFiles, &room.ExplorerFiles},
		{"expanded_folders", expandedFolders, &room.ExpandedFolders},
		{"current_language", currentLanguage, &room.CurrentLanguage},
	} {
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", col.name, err)
		}
	}
	if outputDetails != nil {
		room.OutputDetails = json.RawMessage(outputDetails)
	}

	return &room, nil
}
