package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

// ErrSyncInProgress is returned when a sync is requested for an account
// that already has one in flight. No partial work is performed.
var ErrSyncInProgress = errors.New("account sync already in progress")

// AccountStore is the persistence contract for accounts.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
	FindAllActive(ctx context.Context) ([]types.Account, error)
}

// FolderStore is the persistence contract for folders.
type FolderStore interface {
	FindByAccountID(ctx context.Context, accountID string) ([]types.Folder, error)
	GetByID(ctx context.Context, id string) (*types.Folder, error)
	Create(ctx context.Context, folder *types.Folder) (string, error)
}

// EmailStore is the persistence contract for emails. FindByMessageID
// returns (nil, nil) when no row exists.
type EmailStore interface {
	FindByMessageID(ctx context.Context, accountID, messageID string) (*types.Email, error)
	GetByID(ctx context.Context, id string) (*types.Email, error)
	Create(ctx context.Context, email *types.Email) (string, error)
	UpdateFlags(ctx context.Context, id string, read, starred, deleted bool) error
	MarkRead(ctx context.Context, id string) error
	GetLatestDate(ctx context.Context, accountID, folderID string) (time.Time, error)
}

// AttachmentStore is the persistence contract for attachment descriptors.
type AttachmentStore interface {
	Create(ctx context.Context, att *types.Attachment) (string, error)
}

// Stores bundles the persistence collaborators the orchestrator consumes.
type Stores struct {
	Accounts    AccountStore
	Folders     FolderStore
	Emails      EmailStore
	Attachments AttachmentStore
}

// mailClient is the slice of the IMAP client the orchestrator drives.
type mailClient interface {
	SetEvents(events email.Events)
	Connect(ctx context.Context) error
	Disconnect() error
	State() email.ConnState
	GetFolders(ctx context.Context) ([]*email.Mailbox, error)
	SyncFolder(ctx context.Context, folderName string, since time.Time, onProgress types.ProgressFunc) ([]*types.Message, error)
	SaveAttachment(att types.MessageAttachment, emailID string) (*types.Attachment, error)
	MarkAsRead(folder string, uid uint32) error
}

// AccountStatus is a read-only projection of one account's connectedness.
type AccountStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// Orchestrator coordinates sync across all accounts: it owns the
// account→client map and the set of account IDs currently syncing. A
// per-account sync holds exclusive access to that account's session; status
// queries may interleave freely.
type Orchestrator struct {
	stores  Stores
	blobDir string
	logger  *logrus.Logger

	// Events receives orchestrator-level lifecycle notifications. Set
	// before initializing accounts.
	Events Events

	newClient func(account types.Account) mailClient

	mu      sync.Mutex
	clients map[string]mailClient
	syncing map[string]bool
}

// NewOrchestrator creates an orchestrator over the given stores. blobDir is
// the root directory attachments are written under.
func NewOrchestrator(stores Stores, blobDir string, logger *logrus.Logger) *Orchestrator {
	o := &Orchestrator{
		stores:  stores,
		blobDir: blobDir,
		logger:  logger,
		clients: make(map[string]mailClient),
		syncing: make(map[string]bool),
	}
	o.newClient = func(account types.Account) mailClient {
		return email.NewClient(account, blobDir, logger)
	}
	return o
}

// InitializeAllAccounts connects every active account. A single account's
// failure is logged and does not abort initialization of the others.
func (o *Orchestrator) InitializeAllAccounts(ctx context.Context) error {
	accounts, err := o.stores.Accounts.FindAllActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active accounts: %w", err)
	}

	o.logger.WithField("count", len(accounts)).Info("Initializing mail accounts")
	for _, account := range accounts {
		if err := o.InitializeAccount(ctx, account.ID); err != nil {
			o.logger.WithError(err).WithField("account", account.Email).
				Error("Failed to initialize account")
		}
	}
	return nil
}

// InitializeAccount creates and connects a session for the account,
// tearing down any prior session for the same ID, and reconciles the
// remote folder tree into the store. Inactive accounts are skipped.
func (o *Orchestrator) InitializeAccount(ctx context.Context, accountID string) error {
	account, err := o.stores.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.IsActive {
		o.logger.WithField("account", account.Email).Info("Skipping inactive account")
		return nil
	}

	// Tear down any previous session for this account before replacing it.
	o.DisconnectAccount(accountID)

	client := o.newClient(*account)
	client.SetEvents(email.Events{
		Connected: func() {
			o.Events.emitConnected(accountID)
		},
		Disconnected: func() {
			o.Events.emitDisconnected(accountID)
		},
		Error: func(err error) {
			o.Events.emitError(accountID, err)
		},
		ReconnectFailed: func(err error) {
			o.removeClient(accountID)
			o.Events.emitConnectionFailed(accountID, err)
		},
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect account %s: %w", account.Email, err)
	}

	o.mu.Lock()
	o.clients[accountID] = client
	o.mu.Unlock()

	if err := o.SyncFolders(ctx, accountID); err != nil {
		return fmt.Errorf("failed to sync folders for %s: %w", account.Email, err)
	}
	return nil
}

// DisconnectAccount ends the account's session if one exists.
func (o *Orchestrator) DisconnectAccount(accountID string) {
	o.mu.Lock()
	client := o.clients[accountID]
	delete(o.clients, accountID)
	o.mu.Unlock()

	if client != nil {
		if err := client.Disconnect(); err != nil {
			o.logger.WithError(err).WithField("account_id", accountID).
				Warn("Error while disconnecting account")
		}
	}
}

// DisconnectAll ends every live session.
func (o *Orchestrator) DisconnectAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.clients))
	for id := range o.clients {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.DisconnectAccount(id)
	}
}

func (o *Orchestrator) removeClient(accountID string) {
	o.mu.Lock()
	delete(o.clients, accountID)
	o.mu.Unlock()
}

func (o *Orchestrator) client(accountID string) (mailClient, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	client, ok := o.clients[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s is not connected", accountID)
	}
	return client, nil
}

// SyncFolders reconciles the remote folder tree with the persisted set:
// nested mailboxes are flattened to fully-qualified names, missing ones
// are created with an inferred type and fixed sort order. Existing folders
// are never merged or renamed.
func (o *Orchestrator) SyncFolders(ctx context.Context, accountID string) error {
	client, err := o.client(accountID)
	if err != nil {
		return err
	}

	mailboxes, err := client.GetFolders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list remote folders: %w", err)
	}

	existing, err := o.stores.Folders.FindByAccountID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load persisted folders: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, folder := range existing {
		known[folder.Name] = true
	}

	for _, mailbox := range flattenMailboxes(mailboxes) {
		if known[mailbox.Name] {
			continue
		}
		folderType := classifyFolder(mailbox.Name, mailbox.Attributes)
		folder := &types.Folder{
			AccountID: accountID,
			Name:      mailbox.Name,
			Type:      folderType,
			SortOrder: folderSortOrder(folderType),
		}
		if _, err := o.stores.Folders.Create(ctx, folder); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", mailbox.Name, err)
		}
		known[mailbox.Name] = true

		o.logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"folder":     mailbox.Name,
			"type":       folderType,
		}).Info("Created folder")
	}

	return nil
}

// SyncAccount runs an incremental sync over every persisted folder of the
// account, sequentially, in the order the folders were persisted. It
// returns one SyncResult per folder; folder-level failures populate that
// folder's Errors instead of aborting the loop. A second call for the same
// account while one is in flight is rejected with ErrSyncInProgress.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string, onProgress types.ProgressFunc) ([]types.SyncResult, error) {
	o.mu.Lock()
	if o.syncing[accountID] {
		o.mu.Unlock()
		return nil, fmt.Errorf("account %s: %w", accountID, ErrSyncInProgress)
	}
	o.syncing[accountID] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.syncing, accountID)
		o.mu.Unlock()
	}()

	if _, err := o.client(accountID); err != nil {
		return nil, err
	}

	folders, err := o.stores.Folders.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load folders: %w", err)
	}

	var results []types.SyncResult
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		report(onProgress, types.SyncProgress{
			Status:   types.StatusConnecting,
			Message:  fmt.Sprintf("starting folder %s", folder.Name),
			FolderID: folder.ID,
		})

		result, err := o.SyncFolder(ctx, accountID, folder.ID, onProgress)
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"account_id": accountID,
				"folder":     folder.Name,
			}).Error("Folder sync failed")
			results = append(results, types.SyncResult{
				AccountID: accountID,
				FolderID:  folder.ID,
				Errors:    []string{err.Error()},
			})
			continue
		}
		results = append(results, *result)
	}

	return results, nil
}

// SyncFolder syncs a single folder: messages newer than the watermark (the
// max persisted date for the folder) are fetched, deduplicated against the
// store by (account, Message-ID), and persisted. Per-message persistence
// errors are collected into the result and the loop continues.
func (o *Orchestrator) SyncFolder(ctx context.Context, accountID, folderID string, onProgress types.ProgressFunc) (*types.SyncResult, error) {
	client, err := o.client(accountID)
	if err != nil {
		return nil, err
	}

	folder, err := o.stores.Folders.GetByID(ctx, folderID)
	if err != nil {
		return nil, err
	}

	result := &types.SyncResult{
		AccountID: accountID,
		FolderID:  folderID,
		Errors:    []string{},
	}

	watermark, err := o.stores.Emails.GetLatestDate(ctx, accountID, folderID)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	folderProgress := func(progress types.SyncProgress) {
		progress.FolderID = folderID
		report(onProgress, progress)
	}

	messages, err := client.SyncFolder(ctx, folder.Name, watermark, folderProgress)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	for _, message := range messages {
		if err := o.persistMessage(ctx, accountID, folderID, client, message, result); err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"account_id": accountID,
				"message_id": message.MessageID,
			}).Warn("Failed to persist message")
			result.Errors = append(result.Errors, fmt.Sprintf("failed to save message %s: %v", message.MessageID, err))
		}
	}

	o.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"folder":     folder.Name,
		"new":        result.NewEmails,
		"updated":    result.UpdatedEmails,
		"errors":     len(result.Errors),
	}).Info("Folder sync completed")

	return result, nil
}

// persistMessage creates a new email row for an unseen Message-ID, or
// applies a flag-only update when the message already exists and the flags
// genuinely changed.
func (o *Orchestrator) persistMessage(ctx context.Context, accountID, folderID string, client mailClient, message *types.Message, result *types.SyncResult) error {
	existing, err := o.stores.Emails.FindByMessageID(ctx, accountID, message.MessageID)
	if err != nil {
		return err
	}

	if existing == nil {
		emailID, err := o.stores.Emails.Create(ctx, emailFromMessage(accountID, folderID, message))
		if err != nil {
			return err
		}

		for _, att := range message.Attachments {
			descriptor, err := client.SaveAttachment(att, emailID)
			if err != nil {
				o.logger.WithError(err).WithField("filename", att.Filename).
					Warn("Failed to save attachment")
				continue
			}
			if _, err := o.stores.Attachments.Create(ctx, descriptor); err != nil {
				o.logger.WithError(err).WithField("filename", att.Filename).
					Warn("Failed to persist attachment record")
			}
		}

		result.NewEmails++
		return nil
	}

	if existing.IsRead != message.IsRead ||
		existing.IsStarred != message.IsStarred ||
		existing.IsDeleted != message.IsDeleted {
		if err := o.stores.Emails.UpdateFlags(ctx, existing.ID, message.IsRead, message.IsStarred, message.IsDeleted); err != nil {
			return err
		}
		result.UpdatedEmails++
	}
	return nil
}

// emailFromMessage maps an in-flight message onto a persistable row.
func emailFromMessage(accountID, folderID string, message *types.Message) *types.Email {
	from := types.EmailAddress{Address: "unknown@unknown.com"}
	if len(message.From) > 0 {
		from = message.From[0]
	}

	return &types.Email{
		AccountID:      accountID,
		FolderID:       folderID,
		UID:            message.UID,
		MessageID:      message.MessageID,
		Subject:        message.Subject,
		From:           from,
		To:             message.To,
		Cc:             message.Cc,
		Bcc:            message.Bcc,
		BodyText:       message.BodyText,
		BodyHTML:       message.BodyHTML,
		DateReceived:   message.Date,
		DateSent:       message.Date,
		IsRead:         message.IsRead,
		IsStarred:      message.IsStarred,
		IsDeleted:      message.IsDeleted,
		HasAttachments: len(message.Attachments) > 0,
		SizeBytes:      message.SizeBytes,
	}
}

// MarkEmailAsRead flags the server copy \Seen via the persisted UID when
// the account is connected, then updates the local row. A server-side
// failure downgrades to a local-only update.
func (o *Orchestrator) MarkEmailAsRead(ctx context.Context, accountID, emailID string) error {
	emailRow, err := o.stores.Emails.GetByID(ctx, emailID)
	if err != nil {
		return err
	}
	folder, err := o.stores.Folders.GetByID(ctx, emailRow.FolderID)
	if err != nil {
		return err
	}

	if client, err := o.client(accountID); err == nil && emailRow.UID != 0 {
		if err := client.MarkAsRead(folder.Name, emailRow.UID); err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"account_id": accountID,
				"email_id":   emailID,
			}).Warn("Failed to update read flag on server")
		}
	}

	return o.stores.Emails.MarkRead(ctx, emailID)
}

// AccountStatus reports the connectedness of one account.
func (o *Orchestrator) AccountStatus(accountID string) AccountStatus {
	o.mu.Lock()
	client := o.clients[accountID]
	o.mu.Unlock()

	if client == nil {
		return AccountStatus{State: email.StateDisconnected.String()}
	}
	state := client.State()
	return AccountStatus{
		Connected: state == email.StateConnected,
		State:     state.String(),
	}
}

// AllAccountsStatus reports connectedness for every live session.
func (o *Orchestrator) AllAccountsStatus() map[string]AccountStatus {
	o.mu.Lock()
	ids := make([]string, 0, len(o.clients))
	for id := range o.clients {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	status := make(map[string]AccountStatus, len(ids))
	for _, id := range ids {
		status[id] = o.AccountStatus(id)
	}
	return status
}

func report(onProgress types.ProgressFunc, progress types.SyncProgress) {
	if onProgress != nil {
		onProgress(progress)
	}
}
