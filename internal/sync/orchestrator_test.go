package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeAccountStore struct {
	accounts []types.Account
}

func (f *fakeAccountStore) GetByID(_ context.Context, id string) (*types.Account, error) {
	for i := range f.accounts {
		if f.accounts[i].ID == id {
			acc := f.accounts[i]
			return &acc, nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", id)
}

func (f *fakeAccountStore) FindAllActive(_ context.Context) ([]types.Account, error) {
	var active []types.Account
	for _, acc := range f.accounts {
		if acc.IsActive {
			active = append(active, acc)
		}
	}
	return active, nil
}

type fakeFolderStore struct {
	folders []types.Folder
}

func (f *fakeFolderStore) Create(_ context.Context, folder *types.Folder) (string, error) {
	if folder.ID == "" {
		folder.ID = fmt.Sprintf("folder-%d", len(f.folders)+1)
	}
	f.folders = append(f.folders, *folder)
	return folder.ID, nil
}

func (f *fakeFolderStore) GetByID(_ context.Context, id string) (*types.Folder, error) {
	for i := range f.folders {
		if f.folders[i].ID == id {
			folder := f.folders[i]
			return &folder, nil
		}
	}
	return nil, fmt.Errorf("folder not found: %s", id)
}

func (f *fakeFolderStore) FindByAccountID(_ context.Context, accountID string) ([]types.Folder, error) {
	var out []types.Folder
	for _, folder := range f.folders {
		if folder.AccountID == accountID {
			out = append(out, folder)
		}
	}
	return out, nil
}

type fakeEmailStore struct {
	emails     []types.Email
	latest     time.Time
	markedRead []string
}

func (f *fakeEmailStore) Create(_ context.Context, e *types.Email) (string, error) {
	for _, existing := range f.emails {
		if existing.AccountID == e.AccountID && existing.MessageID == e.MessageID {
			return "", fmt.Errorf("duplicate message id %s", e.MessageID)
		}
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("email-%d", len(f.emails)+1)
	}
	f.emails = append(f.emails, *e)
	return e.ID, nil
}

func (f *fakeEmailStore) FindByMessageID(_ context.Context, accountID, messageID string) (*types.Email, error) {
	for i := range f.emails {
		if f.emails[i].AccountID == accountID && f.emails[i].MessageID == messageID {
			e := f.emails[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeEmailStore) GetByID(_ context.Context, id string) (*types.Email, error) {
	for i := range f.emails {
		if f.emails[i].ID == id {
			e := f.emails[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("email not found: %s", id)
}

func (f *fakeEmailStore) UpdateFlags(_ context.Context, id string, read, starred, deleted bool) error {
	for i := range f.emails {
		if f.emails[i].ID == id {
			f.emails[i].IsRead = read
			f.emails[i].IsStarred = starred
			f.emails[i].IsDeleted = deleted
			return nil
		}
	}
	return fmt.Errorf("email not found: %s", id)
}

func (f *fakeEmailStore) MarkRead(_ context.Context, id string) error {
	f.markedRead = append(f.markedRead, id)
	for i := range f.emails {
		if f.emails[i].ID == id {
			f.emails[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeEmailStore) GetLatestDate(_ context.Context, _, _ string) (time.Time, error) {
	return f.latest, nil
}

type fakeAttachmentStore struct {
	attachments []types.Attachment
}

func (f *fakeAttachmentStore) Create(_ context.Context, att *types.Attachment) (string, error) {
	if att.ID == "" {
		att.ID = fmt.Sprintf("att-%d", len(f.attachments)+1)
	}
	f.attachments = append(f.attachments, *att)
	return att.ID, nil
}

type fakeMailClient struct {
	mu sync.Mutex

	events       email.Events
	state        email.ConnState
	connectErr   error
	folders      []*email.Mailbox
	messages     map[string][]*types.Message
	syncErr      map[string]error
	sinceByName  map[string]time.Time
	marked       []string
	saved        []types.MessageAttachment
	disconnected bool

	// block, when non-nil, stalls SyncFolder until closed; entered is
	// closed once the first SyncFolder call begins.
	block       chan struct{}
	entered     chan struct{}
	enteredOnce sync.Once
}

func (c *fakeMailClient) SetEvents(events email.Events) { c.events = events }

func (c *fakeMailClient) Connect(context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.state = email.StateConnected
	return nil
}

func (c *fakeMailClient) Disconnect() error {
	c.disconnected = true
	c.state = email.StateDisconnected
	return nil
}

func (c *fakeMailClient) State() email.ConnState { return c.state }

func (c *fakeMailClient) GetFolders(context.Context) ([]*email.Mailbox, error) {
	return c.folders, nil
}

func (c *fakeMailClient) SyncFolder(_ context.Context, folderName string, since time.Time, onProgress types.ProgressFunc) ([]*types.Message, error) {
	if c.entered != nil {
		c.enteredOnce.Do(func() { close(c.entered) })
	}
	if c.block != nil {
		<-c.block
	}

	c.mu.Lock()
	if c.sinceByName == nil {
		c.sinceByName = make(map[string]time.Time)
	}
	c.sinceByName[folderName] = since
	c.mu.Unlock()

	if err := c.syncErr[folderName]; err != nil {
		return nil, err
	}
	if onProgress != nil {
		onProgress(types.SyncProgress{Status: types.StatusCompleted, Message: "done"})
	}
	return c.messages[folderName], nil
}

func (c *fakeMailClient) SaveAttachment(att types.MessageAttachment, emailID string) (*types.Attachment, error) {
	c.saved = append(c.saved, att)
	return &types.Attachment{
		EmailID:     emailID,
		Filename:    att.Filename,
		ContentType: att.ContentType,
		SizeBytes:   att.Size,
		FilePath:    "/blobs/" + att.Filename,
	}, nil
}

func (c *fakeMailClient) MarkAsRead(folder string, uid uint32) error {
	c.marked = append(c.marked, fmt.Sprintf("%s:%d", folder, uid))
	return nil
}

type testEnv struct {
	orch        *Orchestrator
	client      *fakeMailClient
	accounts    *fakeAccountStore
	folders     *fakeFolderStore
	emails      *fakeEmailStore
	attachments *fakeAttachmentStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		client: &fakeMailClient{
			folders: []*email.Mailbox{{Name: "INBOX", Delimiter: "/"}},
		},
		accounts: &fakeAccountStore{
			accounts: []types.Account{{ID: "acct-1", Email: "user@example.com", IsActive: true}},
		},
		folders:     &fakeFolderStore{},
		emails:      &fakeEmailStore{},
		attachments: &fakeAttachmentStore{},
	}

	env.orch = NewOrchestrator(Stores{
		Accounts:    env.accounts,
		Folders:     env.folders,
		Emails:      env.emails,
		Attachments: env.attachments,
	}, t.TempDir(), testLogger())
	env.orch.newClient = func(types.Account) mailClient { return env.client }

	return env
}

func testMessage(id string) *types.Message {
	return &types.Message{
		UID:       42,
		MessageID: id,
		Subject:   "hello",
		From:      []types.EmailAddress{{Name: "Alice", Address: "alice@example.com"}},
		To:        []types.EmailAddress{{Address: "user@example.com"}},
		Date:      time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC),
		BodyText:  "hi",
	}
}

func TestInitializeAccountCreatesFolders(t *testing.T) {
	env := newTestEnv(t)
	env.client.folders = []*email.Mailbox{
		{Name: "INBOX", Delimiter: "/"},
		{
			Name:      "Work",
			Delimiter: "/",
			Children:  []*email.Mailbox{{Name: "Clients", Delimiter: "/"}},
		},
		{Name: "Sent", Delimiter: "/", Attributes: []string{`\Sent`}},
	}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}

	wantNames := []string{"INBOX", "Work", "Work/Clients", "Sent"}
	if len(env.folders.folders) != len(wantNames) {
		t.Fatalf("folders created = %d, want %d", len(env.folders.folders), len(wantNames))
	}
	for i, want := range wantNames {
		if env.folders.folders[i].Name != want {
			t.Errorf("folders[%d].Name = %q, want %q", i, env.folders.folders[i].Name, want)
		}
	}

	if env.folders.folders[0].Type != types.FolderInbox || env.folders.folders[0].SortOrder != 1 {
		t.Errorf("INBOX classified as %q/%d, want inbox/1",
			env.folders.folders[0].Type, env.folders.folders[0].SortOrder)
	}
	if env.folders.folders[3].Type != types.FolderSent {
		t.Errorf("Sent classified as %q, want sent", env.folders.folders[3].Type)
	}

	// A second initialization must not duplicate folders.
	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("second InitializeAccount returned error: %v", err)
	}
	if len(env.folders.folders) != len(wantNames) {
		t.Errorf("folders after re-init = %d, want %d", len(env.folders.folders), len(wantNames))
	}
}

func TestInitializeAccountSkipsInactive(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.accounts[0].IsActive = false

	created := false
	env.orch.newClient = func(types.Account) mailClient {
		created = true
		return env.client
	}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}
	if created {
		t.Error("a client was created for an inactive account")
	}
}

func TestInitializeAccountConnectFailure(t *testing.T) {
	env := newTestEnv(t)
	env.client.connectErr = errors.New("auth failed")

	err := env.orch.InitializeAccount(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("InitializeAccount returned nil error with failing connect")
	}

	status := env.orch.AccountStatus("acct-1")
	if status.Connected {
		t.Error("account reported connected after connect failure")
	}
}

func TestSyncAccountRejectsConcurrentSync(t *testing.T) {
	env := newTestEnv(t)
	env.client.block = make(chan struct{})
	env.client.entered = make(chan struct{})

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := env.orch.SyncAccount(context.Background(), "acct-1", nil)
		firstDone <- err
	}()

	<-env.client.entered

	_, err := env.orch.SyncAccount(context.Background(), "acct-1", nil)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent SyncAccount error = %v, want ErrSyncInProgress", err)
	}

	close(env.client.block)
	if err := <-firstDone; err != nil {
		t.Errorf("first SyncAccount returned error: %v", err)
	}

	// The in-flight marker must be released afterwards.
	if _, err := env.orch.SyncAccount(context.Background(), "acct-1", nil); err != nil {
		t.Errorf("SyncAccount after release returned error: %v", err)
	}
}

func TestSyncAccountContinuesAfterFolderError(t *testing.T) {
	env := newTestEnv(t)
	env.client.folders = []*email.Mailbox{
		{Name: "INBOX", Delimiter: "/"},
		{Name: "Broken", Delimiter: "/"},
		{Name: "Archive", Delimiter: "/"},
	}
	env.client.syncErr = map[string]error{"Broken": errors.New("server hiccup")}
	env.client.messages = map[string][]*types.Message{
		"INBOX":   {testMessage("<a@example.com>")},
		"Archive": {testMessage("<b@example.com>")},
	}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}

	results, err := env.orch.SyncAccount(context.Background(), "acct-1", nil)
	if err != nil {
		t.Fatalf("SyncAccount returned error: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].NewEmails != 1 || len(results[0].Errors) != 0 {
		t.Errorf("INBOX result = %+v, want 1 new email and no errors", results[0])
	}
	if len(results[1].Errors) != 1 {
		t.Errorf("Broken result errors = %v, want one error entry", results[1].Errors)
	}
	if results[2].NewEmails != 1 {
		t.Errorf("Archive result = %+v, want 1 new email", results[2])
	}
}

func TestSyncFolderPersistsNewMessages(t *testing.T) {
	env := newTestEnv(t)
	msg := testMessage("<new@example.com>")
	msg.Attachments = []types.MessageAttachment{
		{Filename: "invoice.pdf", ContentType: "application/pdf", Size: 4, Content: []byte("data")},
	}
	env.client.messages = map[string][]*types.Message{"INBOX": {msg}}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}
	folderID := env.folders.folders[0].ID

	result, err := env.orch.SyncFolder(context.Background(), "acct-1", folderID, nil)
	if err != nil {
		t.Fatalf("SyncFolder returned error: %v", err)
	}

	if result.NewEmails != 1 || result.UpdatedEmails != 0 {
		t.Errorf("result = %+v, want 1 new, 0 updated", result)
	}
	if len(env.emails.emails) != 1 {
		t.Fatalf("emails persisted = %d, want 1", len(env.emails.emails))
	}

	row := env.emails.emails[0]
	if row.MessageID != "<new@example.com>" || row.UID != 42 {
		t.Errorf("persisted row = %+v", row)
	}
	if !row.HasAttachments {
		t.Error("HasAttachments = false, want true")
	}
	if row.From.Address != "alice@example.com" {
		t.Errorf("From = %+v, want alice@example.com", row.From)
	}

	if len(env.client.saved) != 1 || env.client.saved[0].Filename != "invoice.pdf" {
		t.Errorf("attachments saved = %+v, want invoice.pdf", env.client.saved)
	}
	if len(env.attachments.attachments) != 1 {
		t.Errorf("attachment rows = %d, want 1", len(env.attachments.attachments))
	}

	// A second pass over the same message is a no-op.
	result, err = env.orch.SyncFolder(context.Background(), "acct-1", folderID, nil)
	if err != nil {
		t.Fatalf("second SyncFolder returned error: %v", err)
	}
	if result.NewEmails != 0 || result.UpdatedEmails != 0 {
		t.Errorf("second pass result = %+v, want no changes", result)
	}
	if len(env.emails.emails) != 1 {
		t.Errorf("emails after second pass = %d, want 1", len(env.emails.emails))
	}
}

func TestSyncFolderUpdatesChangedFlags(t *testing.T) {
	env := newTestEnv(t)
	msg := testMessage("<seen@example.com>")
	msg.IsRead = true
	env.client.messages = map[string][]*types.Message{"INBOX": {msg}}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}
	folderID := env.folders.folders[0].ID

	env.emails.emails = []types.Email{{
		ID:        "email-1",
		AccountID: "acct-1",
		FolderID:  folderID,
		MessageID: "<seen@example.com>",
		IsRead:    false,
	}}

	result, err := env.orch.SyncFolder(context.Background(), "acct-1", folderID, nil)
	if err != nil {
		t.Fatalf("SyncFolder returned error: %v", err)
	}
	if result.NewEmails != 0 || result.UpdatedEmails != 1 {
		t.Errorf("result = %+v, want 0 new, 1 updated", result)
	}
	if !env.emails.emails[0].IsRead {
		t.Error("stored email not marked read after flag update")
	}

	// Same flags again: nothing to update.
	result, err = env.orch.SyncFolder(context.Background(), "acct-1", folderID, nil)
	if err != nil {
		t.Fatalf("second SyncFolder returned error: %v", err)
	}
	if result.UpdatedEmails != 0 {
		t.Errorf("UpdatedEmails = %d, want 0 when flags are unchanged", result.UpdatedEmails)
	}
}

func TestSyncFolderPassesWatermark(t *testing.T) {
	env := newTestEnv(t)
	watermark := time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC)
	env.emails.latest = watermark

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}
	folderID := env.folders.folders[0].ID

	if _, err := env.orch.SyncFolder(context.Background(), "acct-1", folderID, nil); err != nil {
		t.Fatalf("SyncFolder returned error: %v", err)
	}

	got := env.client.sinceByName["INBOX"]
	if !got.Equal(watermark) {
		t.Errorf("since = %v, want watermark %v", got, watermark)
	}
}

func TestSyncFolderKeepsMessageAtWatermark(t *testing.T) {
	env := newTestEnv(t)
	boundary := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)
	msg := testMessage("<edge@example.com>")
	msg.Date = boundary
	env.client.messages = map[string][]*types.Message{"INBOX": {msg}}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}
	folderID := env.folders.folders[0].ID

	result, err := env.orch.SyncFolder(context.Background(), "acct-1", folderID, nil)
	if err != nil {
		t.Fatalf("SyncFolder returned error: %v", err)
	}
	if result.NewEmails != 1 {
		t.Fatalf("first pass result = %+v, want 1 new email", result)
	}

	// The next run starts from a watermark equal to the message's own date.
	// The server search window is inclusive at the boundary, so the same
	// message comes back and must be absorbed, not skipped or duplicated.
	env.emails.latest = boundary

	result, err = env.orch.SyncFolder(context.Background(), "acct-1", folderID, nil)
	if err != nil {
		t.Fatalf("second SyncFolder returned error: %v", err)
	}

	if got := env.client.sinceByName["INBOX"]; !got.Equal(boundary) {
		t.Errorf("since = %v, want boundary date %v", got, boundary)
	}
	if result.NewEmails != 0 || result.UpdatedEmails != 0 {
		t.Errorf("boundary re-pass result = %+v, want no changes", result)
	}
	if len(env.emails.emails) != 1 {
		t.Errorf("emails after boundary re-pass = %d, want 1", len(env.emails.emails))
	}
	if env.emails.emails[0].MessageID != "<edge@example.com>" {
		t.Errorf("persisted message = %q, want the boundary message kept", env.emails.emails[0].MessageID)
	}
}

func TestSyncAccountIndependentAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.accounts = append(env.accounts.accounts, types.Account{
		ID: "acct-2", Email: "other@example.com", IsActive: true,
	})

	clientA := &fakeMailClient{
		folders: []*email.Mailbox{{Name: "INBOX", Delimiter: "/"}},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	clientB := &fakeMailClient{
		folders:  []*email.Mailbox{{Name: "INBOX", Delimiter: "/"}},
		messages: map[string][]*types.Message{"INBOX": {testMessage("<b@example.com>")}},
	}
	env.orch.newClient = func(account types.Account) mailClient {
		if account.ID == "acct-1" {
			return clientA
		}
		return clientB
	}

	for _, id := range []string{"acct-1", "acct-2"} {
		if err := env.orch.InitializeAccount(context.Background(), id); err != nil {
			t.Fatalf("InitializeAccount(%s) returned error: %v", id, err)
		}
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := env.orch.SyncAccount(context.Background(), "acct-1", nil)
		firstDone <- err
	}()

	<-clientA.entered

	// One account's in-flight sync must not block another account.
	results, err := env.orch.SyncAccount(context.Background(), "acct-2", nil)
	if err != nil {
		t.Fatalf("SyncAccount for second account returned error: %v", err)
	}
	if len(results) != 1 || results[0].NewEmails != 1 {
		t.Errorf("second account results = %+v, want one folder with 1 new email", results)
	}

	close(clientA.block)
	if err := <-firstDone; err != nil {
		t.Errorf("first SyncAccount returned error: %v", err)
	}
}

func TestSyncFolderProgressCarriesFolderID(t *testing.T) {
	env := newTestEnv(t)
	env.client.messages = map[string][]*types.Message{"INBOX": {testMessage("<p@example.com>")}}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}
	folderID := env.folders.folders[0].ID

	var updates []types.SyncProgress
	_, err := env.orch.SyncFolder(context.Background(), "acct-1", folderID, func(p types.SyncProgress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("SyncFolder returned error: %v", err)
	}

	if len(updates) == 0 {
		t.Fatal("no progress updates received")
	}
	for i, p := range updates {
		if p.FolderID != folderID {
			t.Errorf("updates[%d].FolderID = %q, want %q", i, p.FolderID, folderID)
		}
	}
}

func TestMarkEmailAsRead(t *testing.T) {
	env := newTestEnv(t)

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}
	folderID := env.folders.folders[0].ID

	env.emails.emails = []types.Email{{
		ID:        "email-1",
		AccountID: "acct-1",
		FolderID:  folderID,
		UID:       42,
		MessageID: "<r@example.com>",
	}}

	if err := env.orch.MarkEmailAsRead(context.Background(), "acct-1", "email-1"); err != nil {
		t.Fatalf("MarkEmailAsRead returned error: %v", err)
	}

	if len(env.client.marked) != 1 || env.client.marked[0] != "INBOX:42" {
		t.Errorf("server flag calls = %v, want [INBOX:42]", env.client.marked)
	}
	if len(env.emails.markedRead) != 1 || env.emails.markedRead[0] != "email-1" {
		t.Errorf("local MarkRead calls = %v, want [email-1]", env.emails.markedRead)
	}
}

func TestMarkEmailAsReadLocalOnlyWhenDisconnected(t *testing.T) {
	env := newTestEnv(t)

	env.folders.folders = []types.Folder{{
		ID:        "folder-1",
		AccountID: "acct-1",
		Name:      "INBOX",
		Type:      types.FolderInbox,
	}}
	env.emails.emails = []types.Email{{
		ID:        "email-1",
		AccountID: "acct-1",
		FolderID:  "folder-1",
		UID:       42,
		MessageID: "<r@example.com>",
	}}

	if err := env.orch.MarkEmailAsRead(context.Background(), "acct-1", "email-1"); err != nil {
		t.Fatalf("MarkEmailAsRead returned error: %v", err)
	}
	if len(env.client.marked) != 0 {
		t.Errorf("server flag calls = %v, want none while disconnected", env.client.marked)
	}
	if len(env.emails.markedRead) != 1 {
		t.Errorf("local MarkRead calls = %v, want one", env.emails.markedRead)
	}
}

func TestAccountStatus(t *testing.T) {
	env := newTestEnv(t)

	status := env.orch.AccountStatus("acct-1")
	if status.Connected || status.State != "disconnected" {
		t.Errorf("status before init = %+v, want disconnected", status)
	}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}

	status = env.orch.AccountStatus("acct-1")
	if !status.Connected || status.State != "connected" {
		t.Errorf("status after init = %+v, want connected", status)
	}

	all := env.orch.AllAccountsStatus()
	if len(all) != 1 || !all["acct-1"].Connected {
		t.Errorf("AllAccountsStatus = %+v, want acct-1 connected", all)
	}
}

func TestReconnectFailedRemovesClient(t *testing.T) {
	env := newTestEnv(t)

	var failedAccount string
	env.orch.Events = Events{
		AccountConnectionFailed: func(accountID string, err error) {
			failedAccount = accountID
		},
	}

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}

	env.client.events.ReconnectFailed(errors.New("gave up"))

	if failedAccount != "acct-1" {
		t.Errorf("AccountConnectionFailed fired for %q, want acct-1", failedAccount)
	}
	if status := env.orch.AccountStatus("acct-1"); status.Connected {
		t.Error("account still reported connected after permanent failure")
	}
}

func TestDisconnectAll(t *testing.T) {
	env := newTestEnv(t)

	if err := env.orch.InitializeAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("InitializeAccount returned error: %v", err)
	}

	env.orch.DisconnectAll()

	if !env.client.disconnected {
		t.Error("client was not disconnected")
	}
	if status := env.orch.AccountStatus("acct-1"); status.Connected {
		t.Error("account reported connected after DisconnectAll")
	}
}
