package imap

import (
	"context"
	"errors"

	"mailfinder/internal/arrival"
	"mailfinder/internal/models"
)

var (
	// ErrConnection reports that a session or folder could not be opened.
	ErrConnection = errors.New("mail connection failed")
	// ErrAuthentication reports rejected credentials.
	ErrAuthentication = errors.New("mail authentication failed")
	// ErrTransport reports a failed command on an open session.
	ErrTransport = errors.New("mail transport failed")
)

// Dialer opens authenticated mailbox sessions.
type Dialer interface {
	Dial(ctx context.Context, creds models.Credentials) (Connection, error)
}

// Connection is an authenticated session.
type Connection interface {
	OpenReadOnly(ctx context.Context, name string) (Folder, error)
	Close() error
}

// Folder is a mailbox opened read-only. Close stops notifications and
// releases the folder; calling it more than once is safe.
type Folder interface {
	Name() string
	// Messages lists the messages present when the folder was opened.
	Messages() []*models.Message
	FetchMetadata(ctx context.Context, msgs []*models.Message) error
	FetchContent(ctx context.Context, msgs []*models.Message) error
	// Refresh asks the server for pending updates (NOOP).
	Refresh(ctx context.Context) error
	// Watch registers the sink for messages arriving after the folder was opened.
	Watch(listener arrival.Listener)
	Close() error
}
