package imap

import (
	"context"
	"fmt"
	"sync"

	"github.com/emersion/go-imap/client"

	"mailfinder/internal/arrival"
	"mailfinder/internal/models"
)

type folder struct {
	conn     *connection
	name     string
	messages []*models.Message
	fetcher  *fetcher

	mu          sync.Mutex
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
	closeCalled bool

	closeOnce sync.Once
	closeErr  error
}

var _ Folder = (*folder)(nil)

func newFolder(conn *connection, name string, msgs []*models.Message) *folder {
	return &folder{
		conn:     conn,
		name:     name,
		messages: msgs,
		fetcher:  newFetcher(conn.client, conn.log.WithField("folder", name)),
	}
}

// Name returns the folder name as passed to OpenReadOnly.
func (f *folder) Name() string {
	return f.name
}

// Messages returns a copy of the messages present when the folder was opened.
func (f *folder) Messages() []*models.Message {
	out := make([]*models.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// FetchMetadata fetches the envelope of msgs not fetched yet, in a single FETCH.
func (f *folder) FetchMetadata(ctx context.Context, msgs []*models.Message) error {
	return f.fetcher.Metadata(ctx, msgs)
}

// FetchContent downloads and decodes the bodies of msgs.
func (f *folder) FetchContent(ctx context.Context, msgs []*models.Message) error {
	return f.fetcher.Content(ctx, msgs)
}

// Refresh sends a NOOP so the server reports pending arrivals.
func (f *folder) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.conn.client.Noop(); err != nil {
		return fmt.Errorf("%w: noop on %s: %v", ErrTransport, f.name, err)
	}
	return nil
}

// Watch starts delivering arrivals to listener. A second call replaces the
// previous listener.
func (f *folder) Watch(listener arrival.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeCalled {
		return
	}
	f.stopWatching()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.stopWatch, f.watchDone = cancel, done
	go func() {
		defer close(done)
		dispatch(ctx, f.conn.arrivals, listener, f.fetcher.log)
	}()
}

// stopWatching must be called with f.mu held.
func (f *folder) stopWatching() {
	if f.stopWatch == nil {
		return
	}
	f.stopWatch()
	<-f.watchDone
	f.stopWatch, f.watchDone = nil, nil
}

func (f *folder) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalled
}

// Close stops the arrival dispatcher before leaving the folder, so no
// notification is in flight when CLOSE is sent.
func (f *folder) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCalled = true
		f.stopWatching()
		f.mu.Unlock()

		if err := f.conn.client.Close(); err != nil && err != client.ErrNoMailboxSelected {
			f.closeErr = fmt.Errorf("%w: close folder %s: %v", ErrTransport, f.name, err)
		}
	})
	return f.closeErr
}
