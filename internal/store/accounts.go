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

// AccountStore persists mail accounts.
type AccountStore struct {
	db *sqlx.DB
}

const accountColumns = `id, name, email, imap_host, imap_port, imap_secure,
	smtp_host, smtp_port, smtp_secure, username, password, is_active,
	created_at, updated_at`

// Upsert inserts the account or, when one with the same email exists,
// updates its connection settings. The account ID is returned either way.
func (s *AccountStore) Upsert(ctx context.Context, acc *types.Account) (string, error) {
	var existingID string
	err := s.db.QueryRowxContext(ctx,
		"SELECT id FROM accounts WHERE email = ?", acc.Email,
	).Scan(&existingID)

	now := time.Now().UTC()

	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE accounts SET
				name = ?, imap_host = ?, imap_port = ?, imap_secure = ?,
				smtp_host = ?, smtp_port = ?, smtp_secure = ?,
				username = ?, password = ?, is_active = ?, updated_at = ?
			WHERE id = ?`,
			acc.Name, acc.IMAPHost, acc.IMAPPort, boolToInt(acc.IMAPSecure),
			acc.SMTPHost, acc.SMTPPort, boolToInt(acc.SMTPSecure),
			acc.Username, acc.Password, boolToInt(acc.IsActive), now,
			existingID,
		)
		if err != nil {
			return "", fmt.Errorf("failed to update account %s: %w", acc.Email, err)
		}
		acc.ID = existingID
		return existingID, nil

	case errors.Is(err, sql.ErrNoRows):
		id := uuid.New().String()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, acc.Name, acc.Email, acc.IMAPHost, acc.IMAPPort, boolToInt(acc.IMAPSecure),
			acc.SMTPHost, acc.SMTPPort, boolToInt(acc.SMTPSecure),
			acc.Username, acc.Password, boolToInt(acc.IsActive), now, now,
		)
		if err != nil {
			return "", fmt.Errorf("failed to create account %s: %w", acc.Email, err)
		}
		acc.ID = id
		return id, nil

	default:
		return "", fmt.Errorf("failed to look up account %s: %w", acc.Email, err)
	}
}

// GetByID retrieves an account by ID.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*types.Account, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)

	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}
	return acc, nil
}

// FindAllActive returns all active accounts.
func (s *AccountStore) FindAllActive(ctx context.Context) ([]types.Account, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE is_active = 1 ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*types.Account, error) {
	var (
		acc        types.Account
		imapSecure int
		smtpHost   sql.NullString
		smtpPort   sql.NullInt64
		smtpSecure int
		isActive   int
	)

	err := row.Scan(
		&acc.ID, &acc.Name, &acc.Email, &acc.IMAPHost, &acc.IMAPPort, &imapSecure,
		&smtpHost, &smtpPort, &smtpSecure, &acc.Username, &acc.Password, &isActive,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acc.IMAPSecure = imapSecure != 0
	acc.SMTPHost = smtpHost.String
	acc.SMTPPort = int(smtpPort.Int64)
	acc.SMTPSecure = smtpSecure != 0
	acc.IsActive = isActive != 0
	return &acc, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
