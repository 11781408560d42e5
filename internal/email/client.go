package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// ConnState is the connection lifecycle state of a Client.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Events holds the lifecycle callbacks a Client reports through. Any field
// may be nil. Set them before calling Connect.
type Events struct {
	Connected       func()
	Disconnected    func()
	Error           func(error)
	ReconnectFailed func(error)
}

// Mailbox is one node of the server's mailbox tree. Name is the leaf name;
// the fully-qualified path is rebuilt by joining ancestors with Delimiter.
type Mailbox struct {
	Name       string
	Delimiter  string
	Attributes []string
	Children   []*Mailbox
}

// FetchOptions windows a folder listing. Pagination is applied client-side
// on the full UID result set, not via server paging.
type FetchOptions struct {
	Since  time.Time
	Limit  int
	Offset int
}

const (
	defaultConnectTimeout       = 60 * time.Second
	defaultAuthTimeout          = 30 * time.Second
	defaultReconnectDelay       = 5 * time.Second
	defaultMaxReconnectAttempts = 3
	defaultFetchBatchSize       = 50
)

// Client owns exactly one IMAP session for one account: the connect and
// reconnect state machine, folder listing, search, batched fetch and flag
// mutation. It is not safe for concurrent command use; callers serialize
// one logical IMAP conversation per account.
type Client struct {
	account types.Account
	logger  *logrus.Logger
	events  Events
	blobDir string

	// dial is swappable for tests exercising the reconnect policy.
	dial func() (*client.Client, error)

	mu    sync.Mutex
	conn  *client.Client
	state ConnState

	connectTimeout       time.Duration
	authTimeout          time.Duration
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	batchSize            int
}

// NewClient creates a client for the account. It does not connect.
func NewClient(account types.Account, blobDir string, logger *logrus.Logger) *Client {
	c := &Client{
		account:              account,
		logger:               logger,
		blobDir:              blobDir,
		state:                StateDisconnected,
		connectTimeout:       defaultConnectTimeout,
		authTimeout:          defaultAuthTimeout,
		reconnectDelay:       defaultReconnectDelay,
		maxReconnectAttempts: defaultMaxReconnectAttempts,
		batchSize:            defaultFetchBatchSize,
	}
	c.dial = c.dialServer
	return c
}

// SetEvents registers lifecycle callbacks. Must be called before Connect.
func (c *Client) SetEvents(events Events) {
	c.events = events
}

// State returns the current connection state. Safe for concurrent readers.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Account returns the account this client serves.
func (c *Client) Account() types.Account {
	return c.account
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Connect establishes and authenticates the IMAP session. On failure it
// retries with a fixed-multiplier backoff (delay = reconnectDelay * attempt)
// until the attempt budget is spent, then settles in the failed state and
// fires ReconnectFailed exactly once.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected && c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", c.account.IMAPHost, c.account.IMAPPort)

	var lastErr error
	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		conn, err := c.connectOnce()
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.state = StateConnected
			c.mu.Unlock()

			c.logger.WithField("account", c.account.Email).Info("Connected to IMAP server")
			if c.events.Connected != nil {
				c.events.Connected()
			}
			return nil
		}

		lastErr = err
		c.logger.WithError(err).WithFields(logrus.Fields{
			"account": c.account.Email,
			"attempt": attempt,
		}).Warn("IMAP connection attempt failed")
		if c.events.Error != nil {
			c.events.Error(err)
		}

		if attempt == c.maxReconnectAttempts {
			break
		}

		c.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(c.reconnectDelay * time.Duration(attempt)):
		}
		c.setState(StateConnecting)
	}

	c.setState(StateFailed)
	c.logger.WithError(lastErr).WithField("account", c.account.Email).
		Error("Giving up on IMAP connection after repeated failures")
	if c.events.ReconnectFailed != nil {
		c.events.ReconnectFailed(lastErr)
	}
	return &ConnectionError{Addr: addr, Err: lastErr}
}

// connectOnce performs a single dial + login with independent timeouts.
func (c *Client) connectOnce() (*client.Client, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to dial IMAP server: %w", err)
	}

	conn.Timeout = c.authTimeout
	if err := conn.Login(c.account.Username, c.account.Password); err != nil {
		conn.Logout() //nolint:errcheck
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	conn.Timeout = 0

	return conn, nil
}

func (c *Client) dialServer() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.account.IMAPHost, c.account.IMAPPort)
	dialer := &net.Dialer{Timeout: c.connectTimeout}

	if c.account.IMAPSecure {
		return client.DialWithDialerTLS(dialer, addr, &tls.Config{
			ServerName: c.account.IMAPHost,
			MinVersion: tls.VersionTLS12,
		})
	}
	return client.DialWithDialer(dialer, addr)
}

// Disconnect gracefully ends the session. No-op when already disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.state == StateConnected
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Logout()
	if wasConnected {
		c.logger.WithField("account", c.account.Email).Info("Disconnected from IMAP server")
		if c.events.Disconnected != nil {
			c.events.Disconnected()
		}
	}
	return err
}

// connection returns the live session or ErrNotConnected.
func (c *Client) connection() (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// GetFolders returns the server's mailbox tree.
func (c *Client) GetFolders(ctx context.Context) ([]*Mailbox, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- conn.List("", "*", mailboxes)
	}()

	var infos []*imap.MailboxInfo
	for m := range mailboxes {
		infos = append(infos, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return buildMailboxTree(infos), nil
}

// buildMailboxTree nests the flat LIST response using each entry's
// hierarchy delimiter. Intermediate nodes missing from the response are
// synthesized so every child has a parent.
func buildMailboxTree(infos []*imap.MailboxInfo) []*Mailbox {
	var roots []*Mailbox
	index := make(map[string]*Mailbox, len(infos))

	for _, info := range infos {
		parts := []string{info.Name}
		if info.Delimiter != "" {
			parts = strings.Split(info.Name, info.Delimiter)
		}

		var parent *Mailbox
		var path string
		for i, part := range parts {
			if i == 0 {
				path = part
			} else {
				path = path + info.Delimiter + part
			}

			node, ok := index[path]
			if !ok {
				node = &Mailbox{Name: part, Delimiter: info.Delimiter}
				index[path] = node
				if parent == nil {
					roots = append(roots, node)
				} else {
					parent.Children = append(parent.Children, node)
				}
			}
			if i == len(parts)-1 {
				node.Attributes = info.Attributes
			}
			parent = node
		}
	}

	return roots
}

// OpenFolder selects a mailbox. Required before search, fetch and flag
// operations. readOnly selects with EXAMINE semantics.
func (c *Client) OpenFolder(name string, readOnly bool) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if _, err := conn.Select(name, readOnly); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", name, err)
	}
	return nil
}

// Search returns the UIDs matching the criteria in the selected folder.
func (c *Client) Search(criteria *imap.SearchCriteria) ([]uint32, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	uids, err := conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return uids, nil
}

// GetMessages opens the folder, searches for matching UIDs, applies the
// client-side window and fetches the result.
func (c *Client) GetMessages(ctx context.Context, folder string, opts FetchOptions) ([]*types.Message, error) {
	if err := c.OpenFolder(folder, true); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if !opts.Since.IsZero() {
		criteria.Since = opts.Since
	}

	uids, err := c.Search(criteria)
	if err != nil {
		return nil, err
	}

	if opts.Offset > 0 || opts.Limit > 0 {
		start := opts.Offset
		if start > len(uids) {
			start = len(uids)
		}
		end := len(uids)
		if opts.Limit > 0 && start+opts.Limit < end {
			end = start + opts.Limit
		}
		uids = uids[start:end]
	}

	return c.FetchMessages(ctx, uids)
}

// FetchMessages retrieves the given UIDs in batches to bound memory,
// parsing each raw payload as it streams in. Messages whose MIME cannot
// be parsed are skipped; the rest of the batch continues.
func (c *Client) FetchMessages(ctx context.Context, uids []uint32) ([]*types.Message, error) {
	var messages []*types.Message
	for start := 0; start < len(uids); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		end := start + c.batchSize
		if end > len(uids) {
			end = len(uids)
		}
		batch, err := c.fetchBatch(uids[start:end])
		if err != nil {
			return messages, err
		}
		messages = append(messages, batch...)
	}
	return messages, nil
}

// fetchBatch fetches one batch of UIDs with full bodies and attributes.
func (c *Client) fetchBatch(uids []uint32) ([]*types.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		section.FetchItem(),
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
		imap.FetchUid,
	}

	fetched := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- conn.UidFetch(seqSet, items, fetched)
	}()

	var messages []*types.Message
	for msg := range fetched {
		body := readLiteral(msg.GetBody(section))
		parsed, err := ParseMessage(body, msg)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"account": c.account.Email,
				"uid":     msg.Uid,
			}).Warn("Skipping unparsable message")
			continue
		}
		messages = append(messages, parsed)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// readLiteral drains an IMAP literal into memory.
func readLiteral(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}
	buf := make([]byte, 0, 8192)
	chunk := make([]byte, 1024)
	for {
		n, err := literal.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return buf
		}
	}
}

// SyncFolder is the per-folder sync entry point: search for messages newer
// than since (zero time means everything), then fetch them in batches with
// progress callbacks. The context is checked between batches.
func (c *Client) SyncFolder(ctx context.Context, folderName string, since time.Time, onProgress types.ProgressFunc) ([]*types.Message, error) {
	report(onProgress, types.SyncProgress{
		Status:  types.StatusConnecting,
		Message: fmt.Sprintf("opening folder %s", folderName),
	})

	if err := c.OpenFolder(folderName, true); err != nil {
		report(onProgress, types.SyncProgress{
			Status:  types.StatusError,
			Message: err.Error(),
		})
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		criteria.Since = since
	}

	uids, err := c.Search(criteria)
	if err != nil {
		report(onProgress, types.SyncProgress{
			Status:  types.StatusError,
			Message: err.Error(),
		})
		return nil, err
	}

	if len(uids) == 0 {
		report(onProgress, types.SyncProgress{
			Status:  types.StatusCompleted,
			Message: "no new messages",
		})
		return nil, nil
	}

	report(onProgress, types.SyncProgress{
		Total:   len(uids),
		Status:  types.StatusSyncing,
		Message: fmt.Sprintf("syncing %d messages", len(uids)),
	})

	var messages []*types.Message
	for start := 0; start < len(uids); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		end := start + c.batchSize
		if end > len(uids) {
			end = len(uids)
		}

		batch, err := c.fetchBatch(uids[start:end])
		if err != nil {
			report(onProgress, types.SyncProgress{
				Current: start,
				Total:   len(uids),
				Status:  types.StatusError,
				Message: err.Error(),
			})
			return messages, err
		}
		messages = append(messages, batch...)

		report(onProgress, types.SyncProgress{
			Current: end,
			Total:   len(uids),
			Status:  types.StatusSyncing,
			Message: fmt.Sprintf("synced %d/%d messages", end, len(uids)),
		})
	}

	report(onProgress, types.SyncProgress{
		Current: len(uids),
		Total:   len(uids),
		Status:  types.StatusCompleted,
		Message: fmt.Sprintf("synced %d messages", len(uids)),
	})
	return messages, nil
}

func report(onProgress types.ProgressFunc, progress types.SyncProgress) {
	if onProgress != nil {
		onProgress(progress)
	}
}

// MarkAsRead adds \Seen to the message on the server.
func (c *Client) MarkAsRead(folder string, uid uint32) error {
	return c.storeFlags(folder, uid, imap.AddFlags, imap.SeenFlag)
}

// MarkAsUnread removes \Seen from the message on the server.
func (c *Client) MarkAsUnread(folder string, uid uint32) error {
	return c.storeFlags(folder, uid, imap.RemoveFlags, imap.SeenFlag)
}

// MoveMessage moves a message to another folder server-side.
func (c *Client) MoveMessage(folder string, uid uint32, target string) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if _, err := conn.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	if err := conn.UidMove(seqSet, target); err != nil {
		return fmt.Errorf("failed to move message %d to %s: %w", uid, target, err)
	}
	return nil
}

// DeleteMessage flags the message \Deleted and expunges the folder.
func (c *Client) DeleteMessage(folder string, uid uint32) error {
	if err := c.storeFlags(folder, uid, imap.AddFlags, imap.DeletedFlag); err != nil {
		return err
	}
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if err := conn.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge folder %s: %w", folder, err)
	}
	return nil
}

func (c *Client) storeFlags(folder string, uid uint32, op imap.FlagsOp, flags ...string) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if _, err := conn.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(op, true)
	args := make([]interface{}, len(flags))
	for i, f := range flags {
		args[i] = f
	}

	if err := conn.UidStore(seqSet, item, args, nil); err != nil {
		return fmt.Errorf("failed to store flags on message %d: %w", uid, err)
	}
	return nil
}

// VerifyConnection performs a one-shot dial, login and folder listing to
// check the account's settings, independent of the session state machine.
func (c *Client) VerifyConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := c.connectOnce()
	if err != nil {
		return err
	}
	defer conn.Logout() //nolint:errcheck

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- conn.List("", "*", mailboxes)
	}()
	count := 0
	for range mailboxes {
		count++
	}
	if err := <-done; err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account": c.account.Email,
		"folders": count,
	}).Info("Connection verified")
	return nil
}
