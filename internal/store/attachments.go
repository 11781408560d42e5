package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// AttachmentStore persists attachment descriptors. The payloads themselves
// live on disk; rows are created once alongside their owning email and
// removed by cascade when the email is deleted.
type AttachmentStore struct {
	db *sqlx.DB
}

// Create inserts a new attachment descriptor and returns its ID.
func (s *AttachmentStore) Create(ctx context.Context, att *types.Attachment) (string, error) {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, email_id, filename, content_type, size_bytes, file_path, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, att.EmailID, att.Filename, att.ContentType,
		att.SizeBytes, att.FilePath, att.Checksum, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create attachment %s: %w", att.Filename, err)
	}
	return att.ID, nil
}

// FindByEmailID returns all attachments belonging to an email.
func (s *AttachmentStore) FindByEmailID(ctx context.Context, emailID string) ([]types.Attachment, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, email_id, filename, content_type, size_bytes, file_path, checksum, created_at
		FROM attachments WHERE email_id = ? ORDER BY rowid`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var attachments []types.Attachment
	for rows.Next() {
		var att types.Attachment
		err := rows.Scan(
			&att.ID, &att.EmailID, &att.Filename, &att.ContentType,
			&att.SizeBytes, &att.FilePath, &att.Checksum, &att.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		attachments = append(attachments, att)
	}
	return attachments, rows.Err()
}
