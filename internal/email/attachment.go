package email

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/brandon/mailsync/pkg/types"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// SanitizeFilename strips a filename down to [A-Za-z0-9.-], collapsing
// runs of replaced characters into single underscores and truncating the
// result to 255 bytes.
func SanitizeFilename(filename string) string {
	safe := unsafeFilenameChars.ReplaceAllString(filename, "_")
	safe = repeatedUnderscores.ReplaceAllString(safe, "_")
	if len(safe) > 255 {
		safe = safe[:255]
	}
	return safe
}

// SaveAttachment writes the attachment payload under a per-email directory
// and returns the persistable descriptor. The descriptor keeps the original
// filename; only the on-disk name is sanitized. The checksum is the sha256
// of the stored bytes.
func (c *Client) SaveAttachment(att types.MessageAttachment, emailID string) (*types.Attachment, error) {
	dir := filepath.Join(c.blobDir, "attachments", emailID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	path := filepath.Join(dir, SanitizeFilename(att.Filename))
	if err := os.WriteFile(path, att.Content, 0600); err != nil {
		return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
	}

	sum := sha256.Sum256(att.Content)

	return &types.Attachment{
		EmailID:     emailID,
		Filename:    att.Filename,
		ContentType: att.ContentType,
		SizeBytes:   int64(len(att.Content)),
		FilePath:    path,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}
