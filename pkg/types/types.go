package types

import "time"

// Account holds the connection settings for a single mail account.
// The sync engine treats it as read-only for the lifetime of a session.
type Account struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	IMAPHost   string    `json:"imap_host"`
	IMAPPort   int       `json:"imap_port"`
	IMAPSecure bool      `json:"imap_secure"`
	SMTPHost   string    `json:"smtp_host,omitempty"`
	SMTPPort   int       `json:"smtp_port,omitempty"`
	SMTPSecure bool      `json:"smtp_secure,omitempty"`
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FolderType classifies a mailbox by its role.
type FolderType string

const (
	FolderInbox  FolderType = "inbox"
	FolderSent   FolderType = "sent"
	FolderDrafts FolderType = "drafts"
	FolderTrash  FolderType = "trash"
	FolderCustom FolderType = "custom"
)

// Folder is a persisted mailbox. Name is the fully-qualified server-side
// path (parent and child joined by the hierarchy delimiter) and is unique
// per account.
type Folder struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	Type      FolderType `json:"type"`
	ParentID  string     `json:"parent_id,omitempty"`
	SortOrder int        `json:"sort_order"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EmailAddress is a single parsed address with an optional display name.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Message is an in-flight message as fetched from the server, before
// persistence. Attachment contents are transient and dropped once stored.
type Message struct {
	UID         uint32
	MessageID   string
	Subject     string
	From        []EmailAddress
	To          []EmailAddress
	Cc          []EmailAddress
	Bcc         []EmailAddress
	Date        time.Time
	Flags       []string
	IsRead      bool
	IsStarred   bool
	IsDeleted   bool
	BodyText    string
	BodyHTML    string
	SizeBytes   int64
	Attachments []MessageAttachment
}

// MessageAttachment carries the raw attachment payload extracted from MIME.
type MessageAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

// Email is a persisted message row.
type Email struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	FolderID       string         `json:"folder_id"`
	UID            uint32         `json:"uid"`
	MessageID      string         `json:"message_id"`
	Subject        string         `json:"subject,omitempty"`
	From           EmailAddress   `json:"from"`
	To             []EmailAddress `json:"to"`
	Cc             []EmailAddress `json:"cc,omitempty"`
	Bcc            []EmailAddress `json:"bcc,omitempty"`
	BodyText       string         `json:"body_text,omitempty"`
	BodyHTML       string         `json:"body_html,omitempty"`
	DateReceived   time.Time      `json:"date_received"`
	DateSent       time.Time      `json:"date_sent,omitempty"`
	IsRead         bool           `json:"is_read"`
	IsStarred      bool           `json:"is_starred"`
	IsDeleted      bool           `json:"is_deleted"`
	HasAttachments bool           `json:"has_attachments"`
	SizeBytes      int64          `json:"size_bytes"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Attachment is a persisted attachment descriptor. The payload lives on
// disk at FilePath; Checksum is the sha256 of the stored bytes.
type Attachment struct {
	ID          string    `json:"id"`
	EmailID     string    `json:"email_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	FilePath    string    `json:"file_path"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SyncStatus describes the phase a sync pass is in.
type SyncStatus string

const (
	StatusConnecting SyncStatus = "connecting"
	StatusSyncing    SyncStatus = "syncing"
	StatusCompleted  SyncStatus = "completed"
	StatusError      SyncStatus = "error"
)

// SyncProgress is reported to the caller while a folder sync runs.
type SyncProgress struct {
	Current  int        `json:"current"`
	Total    int        `json:"total"`
	Status   SyncStatus `json:"status"`
	Message  string     `json:"message"`
	FolderID string     `json:"folder_id,omitempty"`
}

// ProgressFunc receives progress updates during a sync pass.
type ProgressFunc func(SyncProgress)

// SyncResult summarizes one folder's sync pass. Non-fatal problems are
// collected into Errors instead of aborting the pass.
type SyncResult struct {
	AccountID     string   `json:"account_id"`
	FolderID      string   `json:"folder_id"`
	NewEmails     int      `json:"new_emails"`
	UpdatedEmails int      `json:"updated_emails"`
	Errors        []string `json:"errors"`
}
