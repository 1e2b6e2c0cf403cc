package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"mailfinder/internal/logging"
	"mailfinder/internal/models"
)

// Unsolicited responses are queued here so the client reader never blocks on us.
const updateBuffer = 64

func init() {
	goimap.CharsetReader = charset.Reader
}

// StandardDialer opens sessions against a real IMAP server.
type StandardDialer struct{}

// NewStandardDialer creates a dialer configured entirely from credential properties
func NewStandardDialer() *StandardDialer {
	return &StandardDialer{}
}

var _ Dialer = (*StandardDialer)(nil)

// Dial connects, optionally upgrades to TLS and authenticates. Connection
// problems wrap ErrConnection, rejected credentials wrap ErrAuthentication.
func (d *StandardDialer) Dial(ctx context.Context, creds models.Credentials) (Connection, error) {
	opts, err := parseOptions(creds)
	if err != nil {
		return nil, err
	}

	log := logging.Log.WithFields(logrus.Fields{
		"server":    opts.Address(),
		"mechanism": opts.Mechanism,
	})

	c, err := connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, opts.Address(), err)
	}
	c.ErrorLog = log
	c.Timeout = opts.Timeout

	updates := make(chan client.Update, updateBuffer)
	c.Updates = updates

	if err := authenticate(c, opts, creds); err != nil {
		_ = c.Terminate()
		return nil, fmt.Errorf("%w: user %s: %v", ErrAuthentication, creds.Username, err)
	}
	log.Debug("IMAP session authenticated")

	return newConnection(c, updates, log), nil
}

func connect(ctx context.Context, opts dialOptions) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Address())
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		ServerName:         opts.Host,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	if opts.SSL {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	// The greeting is read by client.New, which has no timeout of its own.
	if opts.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.ConnectTimeout))
	}
	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	if opts.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Terminate()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}
	return c, nil
}

func authenticate(c *client.Client, opts dialOptions, creds models.Credentials) error {
	switch opts.Mechanism {
	case MechPlain:
		return c.Authenticate(sasl.NewPlainClient("", creds.Username, creds.Password))
	case MechOAuthBearer:
		return c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: creds.Username,
			Token:    creds.Password,
			Host:     opts.Host,
			Port:     opts.Port,
		}))
	default:
		return c.Login(creds.Username, creds.Password)
	}
}

// connection owns the go-imap client and the goroutine draining its updates.
type connection struct {
	client   *client.Client
	arrivals *arrivals
	log      *logrus.Entry

	stop     chan struct{}
	pumpDone chan struct{}

	mu     sync.Mutex
	folder *folder

	closeOnce sync.Once
	closeErr  error
}

var _ Connection = (*connection)(nil)

func newConnection(c *client.Client, updates <-chan client.Update, log *logrus.Entry) *connection {
	conn := &connection{
		client:   c,
		arrivals: newArrivals(),
		log:      log,
		stop:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go conn.pump(updates)
	return conn
}

func (c *connection) pump(updates <-chan client.Update) {
	defer close(c.pumpDone)
	for {
		select {
		case u := <-updates:
			c.arrivals.apply(u)
		case <-c.stop:
			return
		}
	}
}

// OpenReadOnly selects the folder with EXAMINE. Only one folder can be open at a time.
func (c *connection) OpenReadOnly(ctx context.Context, name string) (Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.folder != nil && !c.folder.closed() {
		return nil, fmt.Errorf("%w: folder %s is still open", ErrConnection, c.folder.name)
	}

	status, err := c.client.Select(name, true)
	if err != nil {
		return nil, fmt.Errorf("%w: open folder %s: %v", ErrConnection, name, err)
	}
	c.arrivals.reset(status.Messages)

	msgs := make([]*models.Message, status.Messages)
	for i := range msgs {
		msgs[i] = &models.Message{SeqNum: uint32(i + 1)}
	}

	c.log.WithFields(logrus.Fields{
		"folder":   name,
		"messages": status.Messages,
	}).Debug("Folder opened read-only")

	c.folder = newFolder(c, name, msgs)
	return c.folder, nil
}

// Close releases the open folder, logs out and stops the update pump.
func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		f := c.folder
		c.mu.Unlock()
		if f != nil {
			if err := f.Close(); err != nil {
				c.log.Warnf("Error closing folder %s: %v", f.name, err)
			}
		}

		// The pump keeps draining while the server answers LOGOUT.
		if err := c.client.Logout(); err != nil && err != client.ErrAlreadyLoggedOut {
			c.closeErr = fmt.Errorf("%w: logout: %v", ErrTransport, err)
			_ = c.client.Terminate()
		}
		close(c.stop)
		<-c.pumpDone
		c.log.Debug("IMAP session closed")
	})
	return c.closeErr
}
