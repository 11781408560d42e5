package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// EmailStore persists synced messages.
type EmailStore struct {
	db *sqlx.DB
}

const emailColumns = `id, account_id, folder_id, uid, message_id, subject,
	from_address, to_addresses, cc_addresses, bcc_addresses,
	body_text, body_html, date_received, date_sent,
	is_read, is_starred, is_deleted, has_attachments, size_bytes,
	created_at, updated_at`

// Create inserts a new email row and returns its ID. The unique index on
// (account_id, message_id) rejects duplicates.
func (s *EmailStore) Create(ctx context.Context, email *types.Email) (string, error) {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}

	fromJSON, err := json.Marshal(email.From)
	if err != nil {
		return "", fmt.Errorf("failed to marshal from address: %w", err)
	}
	toJSON, err := json.Marshal(addressesOrEmpty(email.To))
	if err != nil {
		return "", fmt.Errorf("failed to marshal to addresses: %w", err)
	}
	ccJSON, err := json.Marshal(addressesOrEmpty(email.Cc))
	if err != nil {
		return "", fmt.Errorf("failed to marshal cc addresses: %w", err)
	}
	bccJSON, err := json.Marshal(addressesOrEmpty(email.Bcc))
	if err != nil {
		return "", fmt.Errorf("failed to marshal bcc addresses: %w", err)
	}

	now := time.Now().UTC()

	var dateSent interface{}
	if !email.DateSent.IsZero() {
		dateSent = email.DateSent.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.ID, email.AccountID, email.FolderID, email.UID, email.MessageID, email.Subject,
		string(fromJSON), string(toJSON), string(ccJSON), string(bccJSON),
		email.BodyText, email.BodyHTML, email.DateReceived.UTC(), dateSent,
		boolToInt(email.IsRead), boolToInt(email.IsStarred), boolToInt(email.IsDeleted),
		boolToInt(email.HasAttachments), email.SizeBytes,
		now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create email %s: %w", email.MessageID, err)
	}
	return email.ID, nil
}

// FindByMessageID looks up an email by its globally-unique Message-ID
// header within one account. Returns (nil, nil) when no row exists.
func (s *EmailStore) FindByMessageID(ctx context.Context, accountID, messageID string) (*types.Email, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+emailColumns+" FROM emails WHERE account_id = ? AND message_id = ?",
		accountID, messageID)

	email, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find email by message id: %w", err)
	}
	return email, nil
}

// GetByID retrieves an email by ID.
func (s *EmailStore) GetByID(ctx context.Context, id string) (*types.Email, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+emailColumns+" FROM emails WHERE id = ?", id)

	email, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("email not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get email %s: %w", id, err)
	}
	return email, nil
}

// UpdateFlags rewrites the three flag booleans. No other field is ever
// touched on update.
func (s *EmailStore) UpdateFlags(ctx context.Context, id string, read, starred, deleted bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE emails SET is_read = ?, is_starred = ?, is_deleted = ?, updated_at = ?
		WHERE id = ?`,
		boolToInt(read), boolToInt(starred), boolToInt(deleted), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update flags for email %s: %w", id, err)
	}
	return nil
}

// MarkRead sets the read flag on a single email.
func (s *EmailStore) MarkRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE emails SET is_read = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email %s as read: %w", id, err)
	}
	return nil
}

// Delete removes an email row; attachments cascade.
func (s *EmailStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete email %s: %w", id, err)
	}
	return nil
}

// GetLatestDate returns the newest date_received for the (account, folder)
// pair, or the zero time when the folder has no synced mail yet. This is
// the incremental-sync watermark.
func (s *EmailStore) GetLatestDate(ctx context.Context, accountID, folderID string) (time.Time, error) {
	var latest time.Time
	err := s.db.QueryRowxContext(ctx, `
		SELECT date_received FROM emails
		WHERE account_id = ? AND folder_id = ?
		ORDER BY date_received DESC LIMIT 1`,
		accountID, folderID,
	).Scan(&latest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get latest email date: %w", err)
	}
	return latest, nil
}

func scanEmail(row rowScanner) (*types.Email, error) {
	var (
		email                        types.Email
		fromJSON                     string
		toJSON, ccJSON, bccJSON      sql.NullString
		subject, bodyText, bodyHTML  sql.NullString
		dateSent                     sql.NullTime
		isRead, isStarred, isDeleted int
		hasAttachments               int
	)

	err := row.Scan(
		&email.ID, &email.AccountID, &email.FolderID, &email.UID, &email.MessageID, &subject,
		&fromJSON, &toJSON, &ccJSON, &bccJSON,
		&bodyText, &bodyHTML, &email.DateReceived, &dateSent,
		&isRead, &isStarred, &isDeleted, &hasAttachments, &email.SizeBytes,
		&email.CreatedAt, &email.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	email.Subject = subject.String
	email.BodyText = bodyText.String
	email.BodyHTML = bodyHTML.String
	if dateSent.Valid {
		email.DateSent = dateSent.Time
	}
	email.IsRead = isRead != 0
	email.IsStarred = isStarred != 0
	email.IsDeleted = isDeleted != 0
	email.HasAttachments = hasAttachments != 0

	if err := json.Unmarshal([]byte(fromJSON), &email.From); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from address: %w", err)
	}
	if err := unmarshalAddresses(toJSON, &email.To); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to addresses: %w", err)
	}
	if err := unmarshalAddresses(ccJSON, &email.Cc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cc addresses: %w", err)
	}
	if err := unmarshalAddresses(bccJSON, &email.Bcc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bcc addresses: %w", err)
	}

	return &email, nil
}

func unmarshalAddresses(raw sql.NullString, dest *[]types.EmailAddress) error {
	if !raw.Valid || raw.String == "" {
		*dest = []types.EmailAddress{}
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

func addressesOrEmpty(addrs []types.EmailAddress) []types.EmailAddress {
	if addrs == nil {
		return []types.EmailAddress{}
	}
	return addrs
}
