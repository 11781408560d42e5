package email

import (
	"bytes"
	"errors"
	"net/mail"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailsync/pkg/types"
)

// ParseMessage turns a raw MIME payload plus the server-reported message
// attributes into a normalized in-flight message. It performs no I/O.
// Malformed MIME yields a *ParseError so batch fetches can skip the one
// message and continue.
func ParseMessage(body []byte, msg *imap.Message) (*types.Message, error) {
	if len(body) == 0 {
		return nil, &ParseError{UID: msg.Uid, Err: errors.New("empty message body")}
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{UID: msg.Uid, Err: err}
	}

	message := &types.Message{
		UID:       msg.Uid,
		MessageID: env.GetHeader("Message-Id"),
		Subject:   env.GetHeader("Subject"),
		From:      headerAddresses(env, "From"),
		To:        headerAddresses(env, "To"),
		Cc:        headerAddresses(env, "Cc"),
		Bcc:       headerAddresses(env, "Bcc"),
		Date:      messageDate(env, msg),
		Flags:     append([]string{}, msg.Flags...),
		BodyText:  env.Text,
		BodyHTML:  env.HTML,
		SizeBytes: int64(msg.Size),
	}

	// The server envelope fills gaps the MIME headers leave open.
	if msg.Envelope != nil {
		if message.MessageID == "" {
			message.MessageID = msg.Envelope.MessageId
		}
		if message.Subject == "" {
			message.Subject = msg.Envelope.Subject
		}
		if len(message.From) == 0 {
			message.From = envelopeAddresses(msg.Envelope.From)
		}
		if len(message.To) == 0 {
			message.To = envelopeAddresses(msg.Envelope.To)
		}
	}

	message.IsRead = hasFlag(message.Flags, imap.SeenFlag)
	message.IsStarred = hasFlag(message.Flags, imap.FlaggedFlag)
	message.IsDeleted = hasFlag(message.Flags, imap.DeletedFlag)

	for _, part := range env.Attachments {
		filename := part.FileName
		if filename == "" {
			filename = "unknown"
		}
		contentType := part.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		message.Attachments = append(message.Attachments, types.MessageAttachment{
			Filename:    filename,
			ContentType: contentType,
			Size:        int64(len(part.Content)),
			Content:     part.Content,
		})
	}

	return message, nil
}

// NormalizeAddresses converts parsed mail addresses into the persisted
// shape. The result is always a non-nil slice.
func NormalizeAddresses(addrs []*mail.Address) []types.EmailAddress {
	normalized := make([]types.EmailAddress, 0, len(addrs))
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		normalized = append(normalized, types.EmailAddress{
			Name:    addr.Name,
			Address: addr.Address,
		})
	}
	return normalized
}

// headerAddresses reads an address header, yielding an empty slice when
// the header is missing or unparsable.
func headerAddresses(env *enmime.Envelope, key string) []types.EmailAddress {
	addrs, err := env.AddressList(key)
	if err != nil {
		return []types.EmailAddress{}
	}
	return NormalizeAddresses(addrs)
}

// envelopeAddresses converts server-envelope addresses.
func envelopeAddresses(addrs []*imap.Address) []types.EmailAddress {
	normalized := make([]types.EmailAddress, 0, len(addrs))
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		normalized = append(normalized, types.EmailAddress{
			Name:    addr.PersonalName,
			Address: addr.Address(),
		})
	}
	return normalized
}

// messageDate prefers the Date header, then the server's internal date.
func messageDate(env *enmime.Envelope, msg *imap.Message) time.Time {
	if raw := env.GetHeader("Date"); raw != "" {
		if parsed, err := mail.ParseDate(raw); err == nil {
			return parsed
		}
	}
	if !msg.InternalDate.IsZero() {
		return msg.InternalDate
	}
	return time.Now()
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
