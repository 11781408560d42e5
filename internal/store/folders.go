package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// FolderStore persists mailbox folders.
type FolderStore struct {
	db *sqlx.DB
}

const folderColumns = `id, account_id, name, type, parent_id, sort_order, created_at, updated_at`

// Create inserts a new folder and returns its ID.
func (s *FolderStore) Create(ctx context.Context, folder *types.Folder) (string, error) {
	if folder.ID == "" {
		folder.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	var parentID interface{}
	if folder.ParentID != "" {
		parentID = folder.ParentID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (`+folderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		folder.ID, folder.AccountID, folder.Name, string(folder.Type),
		parentID, folder.SortOrder, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", folder.Name, err)
	}
	return folder.ID, nil
}

// GetByID retrieves a folder by ID.
func (s *FolderStore) GetByID(ctx context.Context, id string) (*types.Folder, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE id = ?", id)

	folder, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get folder %s: %w", id, err)
	}
	return folder, nil
}

// FindByAccountID returns the account's folders in the order they were
// persisted. Sync passes rely on this insertion order.
func (s *FolderStore) FindByAccountID(ctx context.Context, accountID string) ([]types.Folder, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE account_id = ? ORDER BY rowid", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	var folders []types.Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder row: %w", err)
		}
		folders = append(folders, *folder)
	}
	return folders, rows.Err()
}

func scanFolder(row rowScanner) (*types.Folder, error) {
	var (
		folder     types.Folder
		folderType string
		parentID   sql.NullString
	)

	err := row.Scan(
		&folder.ID, &folder.AccountID, &folder.Name, &folderType,
		&parentID, &folder.SortOrder, &folder.CreatedAt, &folder.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	folder.Type = types.FolderType(folderType)
	folder.ParentID = parentID.String
	return &folder, nil
}
