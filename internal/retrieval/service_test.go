package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailfinder/internal/arrival"
	"mailfinder/internal/config"
	"mailfinder/internal/filter"
	"mailfinder/internal/imap"
	"mailfinder/internal/models"
)

// MockFolder serves preset messages and delivers incoming ones after a delay.
type MockFolder struct {
	existing    []*models.Message
	incoming    []*models.Message
	arriveAfter time.Duration
	metadataErr error

	mu            sync.Mutex
	refreshes     int
	metadataCalls int
	contentCalls  int
	closes        int
	watching      context.CancelFunc
}

func (f *MockFolder) Name() string { return "INBOX" }

func (f *MockFolder) Messages() []*models.Message { return f.existing }

func (f *MockFolder) FetchMetadata(_ context.Context, msgs []*models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataCalls++
	if f.metadataErr != nil {
		return f.metadataErr
	}
	for _, m := range msgs {
		m.Advance(models.MetadataFetched)
	}
	return nil
}

func (f *MockFolder) FetchContent(_ context.Context, msgs []*models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentCalls++
	for _, m := range msgs {
		m.BodyText = "body of " + m.Subject
		m.Advance(models.ContentFetched)
	}
	return nil
}

func (f *MockFolder) Refresh(context.Context) error {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return nil
}

func (f *MockFolder) Watch(listener arrival.Listener) {
	ctx, cancel := context.WithCancel(context.Background())
	f.watching = cancel
	if len(f.incoming) == 0 {
		return
	}
	go func() {
		select {
		case <-time.After(f.arriveAfter):
		case <-ctx.Done():
			return
		}
		_ = listener.OnArrived(ctx, f.incoming)
	}()
}

func (f *MockFolder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.watching != nil {
		f.watching()
	}
	return nil
}

type MockConnection struct {
	folder  imap.Folder
	openErr error
	opened  []string
	closes  int
}

func (c *MockConnection) OpenReadOnly(_ context.Context, name string) (imap.Folder, error) {
	c.opened = append(c.opened, name)
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.folder, nil
}

func (c *MockConnection) Close() error {
	c.closes++
	return nil
}

type MockDialer struct {
	conn    *MockConnection
	dialErr error
}

func (d *MockDialer) Dial(context.Context, models.Credentials) (imap.Connection, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.conn, nil
}

func messages(subjects ...string) []*models.Message {
	msgs := make([]*models.Message, len(subjects))
	for i, s := range subjects {
		msgs[i] = &models.Message{SeqNum: uint32(i + 1), Subject: s}
	}
	return msgs
}

func subject(t *testing.T, rule filter.Rule, value string) filter.Predicate {
	t.Helper()
	pred, err := filter.New(filter.Subject, rule, value)
	if err != nil {
		t.Fatalf("filter.New() error = %v", err)
	}
	return pred
}

func setup(folder imap.Folder) (*Service, *MockConnection) {
	conn := &MockConnection{folder: folder}
	return New(&MockDialer{conn: conn}, Options{}), conn
}

var creds = models.NewCredentials("user", "pass", map[string]string{"host": "imap.test.com"})

func TestNew_Folder(t *testing.T) {
	tests := []struct {
		name   string
		folder string
		want   string
	}{
		{name: "Default", want: config.DefaultFolder},
		{name: "Configured", folder: "Archive", want: "Archive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &MockConnection{folder: &MockFolder{}}
			svc := New(&MockDialer{conn: conn}, Options{Folder: tt.folder})
			policy := models.WaitPolicy{PollAttempts: 1, ArrivalTimeout: time.Millisecond}

			if _, err := svc.Find(context.Background(), nil, creds, policy); err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if len(conn.opened) != 1 || conn.opened[0] != tt.want {
				t.Errorf("Opened folders = %v, want [%s]", conn.opened, tt.want)
			}
		})
	}
}

func TestFind_ExistingMessage(t *testing.T) {
	folder := &MockFolder{existing: messages("Other", "Test message")}
	svc, conn := setup(folder)
	policy := models.WaitPolicy{PollInterval: time.Second, PollAttempts: 3, ArrivalTimeout: time.Second}

	start := time.Now()
	got, err := svc.Find(context.Background(), []filter.Predicate{subject(t, filter.EqualTo, "Test message")}, creds, policy)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}

	if len(got) != 1 || got[0].Subject != "Test message" {
		t.Fatalf("Expected the existing message, got %+v", got)
	}
	if got[0].Stage != models.ContentFetched || got[0].BodyText == "" {
		t.Errorf("Expected content to be fetched, got stage %v", got[0].Stage)
	}
	if folder.refreshes != 0 {
		t.Errorf("Poller must not run when a message already matches, got %d refreshes", folder.refreshes)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("Find waited %v for an existing message", elapsed)
	}
	if folder.closes != 1 || conn.closes != 1 {
		t.Errorf("Expected folder and connection closed once, got %d and %d", folder.closes, conn.closes)
	}
}

func TestFind_MessageArrivesWhilePolling(t *testing.T) {
	folder := &MockFolder{
		incoming:    messages("Test message"),
		arriveAfter: 50 * time.Millisecond,
	}
	svc, conn := setup(folder)
	policy := models.WaitPolicy{PollInterval: 20 * time.Millisecond, PollAttempts: 3, ArrivalTimeout: time.Second}

	got, err := svc.Find(context.Background(), []filter.Predicate{subject(t, filter.EqualTo, "Test message")}, creds, policy)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}

	if len(got) != 1 || got[0].Subject != "Test message" {
		t.Fatalf("Expected the arrived message, got %+v", got)
	}
	if got[0].Stage != models.ContentFetched {
		t.Errorf("Expected content to be fetched, got stage %v", got[0].Stage)
	}
	if folder.refreshes != 1 {
		t.Errorf("Expected the first attempt to succeed, got %d refreshes", folder.refreshes)
	}
	if folder.closes != 1 || conn.closes != 1 {
		t.Errorf("Expected folder and connection closed once, got %d and %d", folder.closes, conn.closes)
	}
}

func TestFind_NothingArrives(t *testing.T) {
	folder := &MockFolder{existing: messages("Other")}
	svc, conn := setup(folder)
	policy := models.WaitPolicy{PollInterval: 30 * time.Millisecond, PollAttempts: 3, ArrivalTimeout: 10 * time.Millisecond}

	start := time.Now()
	got, err := svc.Find(context.Background(), []filter.Predicate{subject(t, filter.EqualTo, "Test message")}, creds, policy)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	elapsed := time.Since(start)

	if len(got) != 0 {
		t.Errorf("Expected no messages, got %d", len(got))
	}
	if folder.refreshes != 3 {
		t.Errorf("Expected 3 poll attempts, got %d", folder.refreshes)
	}
	if min := 2*policy.PollInterval + 3*policy.ArrivalTimeout; elapsed < min {
		t.Errorf("Find returned after %v, expected at least %v", elapsed, min)
	}
	if folder.contentCalls != 0 {
		t.Error("No content must be fetched for an empty result")
	}
	if folder.closes != 1 || conn.closes != 1 {
		t.Errorf("Expected folder and connection closed once, got %d and %d", folder.closes, conn.closes)
	}
}

func TestFind_FiltersAreConjunctive(t *testing.T) {
	folder := &MockFolder{existing: messages("Test message", "Test message Other")}
	svc, _ := setup(folder)
	policy := models.WaitPolicy{PollAttempts: 1, ArrivalTimeout: 10 * time.Millisecond}

	filters := []filter.Predicate{
		subject(t, filter.Contains, "Test"),
		subject(t, filter.Contains, "Other"),
	}
	got, err := svc.Find(context.Background(), filters, creds, policy)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 1 || got[0].Subject != "Test message Other" {
		t.Errorf("Expected only the message matching both filters, got %+v", got)
	}
}

func TestFind_Errors(t *testing.T) {
	transportErr := errors.New("fetch failed")

	tests := []struct {
		name        string
		dialErr     error
		openErr     error
		metadataErr error
		cancelAfter time.Duration
		want        error
		connCloses  int
		folderClose int
	}{
		{
			name:    "Authentication",
			dialErr: imap.ErrAuthentication,
			want:    imap.ErrAuthentication,
		},
		{
			name:       "Open folder",
			openErr:    imap.ErrConnection,
			want:       imap.ErrConnection,
			connCloses: 1,
		},
		{
			name:        "Metadata fetch",
			metadataErr: transportErr,
			want:        transportErr,
			connCloses:  1,
			folderClose: 1,
		},
		{
			name:        "Cancelled while polling",
			cancelAfter: 30 * time.Millisecond,
			want:        arrival.ErrInterrupted,
			connCloses:  1,
			folderClose: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folder := &MockFolder{metadataErr: tt.metadataErr}
			conn := &MockConnection{folder: folder, openErr: tt.openErr}
			svc := New(&MockDialer{conn: conn, dialErr: tt.dialErr}, Options{})
			policy := models.WaitPolicy{PollInterval: time.Hour, PollAttempts: 3, ArrivalTimeout: time.Hour}

			ctx := context.Background()
			if tt.cancelAfter > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.cancelAfter)
				defer cancel()
			}

			got, err := svc.Find(ctx, nil, creds, policy)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Find() error = %v, want %v", err, tt.want)
			}
			if got != nil {
				t.Errorf("Expected no partial result, got %+v", got)
			}
			if conn.closes != tt.connCloses || folder.closes != tt.folderClose {
				t.Errorf("closes = connection %d, folder %d; want %d, %d",
					conn.closes, folder.closes, tt.connCloses, tt.folderClose)
			}
		})
	}
}

func TestFind_ArrivalLoadFailure(t *testing.T) {
	loadErr := errors.New("metadata fetch failed")
	folder := &MockFolder{incoming: messages("Test message"), arriveAfter: 10 * time.Millisecond}
	svc, _ := setup(&failingLoadFolder{MockFolder: folder, err: loadErr})
	policy := models.WaitPolicy{PollInterval: 10 * time.Millisecond, PollAttempts: 3, ArrivalTimeout: time.Second}

	if _, err := svc.Find(context.Background(), nil, creds, policy); !errors.Is(err, loadErr) {
		t.Errorf("Expected load error, got %v", err)
	}
	if folder.closes != 1 {
		t.Errorf("Expected folder closed once, got %d", folder.closes)
	}
}

// failingLoadFolder fails metadata fetches for notified batches only.
type failingLoadFolder struct {
	*MockFolder
	err error
}

func (f *failingLoadFolder) FetchMetadata(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) > 0 && len(f.existing) == 0 {
		return f.err
	}
	return f.MockFolder.FetchMetadata(ctx, msgs)
}
