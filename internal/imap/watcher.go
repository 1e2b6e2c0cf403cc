package imap

import (
	"context"
	"errors"
	"sync"

	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"mailfinder/internal/arrival"
	"mailfinder/internal/models"
)

// arrivals tracks the EXISTS count reported by the server against the number
// of messages already handed to a listener.
type arrivals struct {
	mu        sync.Mutex
	exists    uint32
	delivered uint32
	// reported is the last count seen on a MailboxUpdate. The client does not
	// lower it on EXPUNGE and repeats it on RECENT.
	reported uint32
	signal   chan struct{}
}

func newArrivals() *arrivals {
	return &arrivals{signal: make(chan struct{}, 1)}
}

// reset sets the baseline after SELECT: everything present is already known.
func (a *arrivals) reset(count uint32) {
	a.mu.Lock()
	a.exists, a.delivered, a.reported = count, count, count
	a.mu.Unlock()
}

func (a *arrivals) apply(u client.Update) {
	switch u := u.(type) {
	case *client.MailboxUpdate:
		if u.Mailbox != nil {
			a.onReported(u.Mailbox.Messages)
		}
	case *client.ExpungeUpdate:
		a.onExpunge(u.SeqNum)
	}
}

// onReported ignores a count equal to the previous one, so a RECENT sent after
// an EXPUNGE cannot restore the expunged message.
func (a *arrivals) onReported(count uint32) {
	a.mu.Lock()
	changed := count != a.reported
	a.reported = count
	a.mu.Unlock()

	if changed {
		a.onExists(count)
	}
}

func (a *arrivals) onExists(count uint32) {
	a.mu.Lock()
	a.exists = count
	if a.delivered > count {
		a.delivered = count
	}
	pending := a.exists > a.delivered
	a.mu.Unlock()

	if pending {
		a.notify()
	}
}

func (a *arrivals) onExpunge(seqNum uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exists > 0 {
		a.exists--
	}
	if seqNum <= a.delivered && a.delivered > 0 {
		a.delivered--
	}
}

func (a *arrivals) notify() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

// next claims the sequence numbers that arrived since the last call.
func (a *arrivals) next() (from, to uint32, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exists <= a.delivered {
		return 0, 0, false
	}
	from, to = a.delivered+1, a.exists
	a.delivered = a.exists
	return from, to, true
}

// dispatch hands each claimed range to the listener as one batch until ctx is done.
func dispatch(ctx context.Context, a *arrivals, listener arrival.Listener, log *logrus.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.signal:
		}

		for {
			from, to, ok := a.next()
			if !ok {
				break
			}
			batch := make([]*models.Message, 0, to-from+1)
			for seq := from; seq <= to; seq++ {
				batch = append(batch, &models.Message{SeqNum: seq})
			}

			log.Debugf("Messages %d..%d arrived", from, to)
			if err := listener.OnArrived(ctx, batch); err != nil {
				if ctx.Err() != nil || errors.Is(err, arrival.ErrInterrupted) {
					return
				}
				log.Warnf("Error delivering messages %d..%d: %v", from, to, err)
			}
		}
	}
}
