// Package arrival hands messages delivered by a mailbox notification goroutine
// to a synchronous caller.
//
// The notification side and the collecting side meet in a two step rendezvous.
// A notifier offers an arrival token; a collector that takes the token has
// committed to wait for that batch. Only then does the notifier load, filter and
// append the batch, after which it reports completion on the channel carried by
// the token. The buffer is therefore never appended to before a collector is
// listening, and never read while a batch is half appended.
package arrival

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailfinder/internal/filter"
	"mailfinder/internal/models"
)

// ErrInterrupted is returned when a wait inside the rendezvous is cancelled.
// It wraps the context error, so errors.Is(err, context.Canceled) also holds.
var ErrInterrupted = errors.New("arrival wait interrupted")

// Listener receives batches of newly arrived messages.
type Listener interface {
	OnArrived(ctx context.Context, batch []*models.Message) error
}

// Options configures a Rendezvous.
type Options struct {
	// Match selects the messages kept from each batch.
	Match filter.Predicate
	// Load prepares a batch for matching, typically by fetching its metadata.
	// It runs on the notifier goroutine while the collector is blocked.
	Load func(context.Context, []*models.Message) error
	// Refresh prompts the server to report pending arrivals before a collector waits.
	Refresh func(context.Context) error
	// ArrivalTimeout is how long a collector waits for a batch.
	ArrivalTimeout time.Duration
}

// Rendezvous accumulates matched messages for a single retrieval.
type Rendezvous struct {
	opts Options

	collecting sync.Mutex
	notifying  sync.Mutex
	arrived    chan chan error

	mu     sync.Mutex
	buffer []*models.Message
}

var _ Listener = (*Rendezvous)(nil)

// New creates a Rendezvous. A nil Match accepts every message.
func New(opts Options) *Rendezvous {
	if opts.Match == nil {
		opts.Match = filter.All()
	}
	return &Rendezvous{
		opts:    opts,
		arrived: make(chan chan error),
	}
}

// OnArrived blocks until a collector takes the batch, then filters it and
// appends the matches in delivery order. Concurrent calls are served one at a
// time, one per Collect.
func (r *Rendezvous) OnArrived(ctx context.Context, batch []*models.Message) error {
	r.notifying.Lock()
	defer r.notifying.Unlock()

	done := make(chan error, 1)
	select {
	case r.arrived <- done:
	case <-ctx.Done():
		return interrupted(ctx.Err())
	}

	err := r.accept(ctx, batch)
	done <- err
	return err
}

func (r *Rendezvous) accept(ctx context.Context, batch []*models.Message) error {
	if r.opts.Load != nil {
		if err := r.opts.Load(ctx, batch); err != nil {
			return err
		}
	}

	matched, err := filter.Search(batch, r.opts.Match)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, matched...)
	r.mu.Unlock()
	return nil
}

// Collect refreshes the mailbox, waits up to ArrivalTimeout for one batch and
// returns a copy of everything matched so far. When nothing arrives in time the
// buffer is returned unchanged.
func (r *Rendezvous) Collect(ctx context.Context) ([]*models.Message, error) {
	r.collecting.Lock()
	defer r.collecting.Unlock()

	if r.opts.Refresh != nil {
		if err := r.opts.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	timer := time.NewTimer(r.opts.ArrivalTimeout)
	defer timer.Stop()

	select {
	case done := <-r.arrived:
		select {
		case err := <-done:
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, interrupted(ctx.Err())
		}
	case <-timer.C:
	case <-ctx.Done():
		return nil, interrupted(ctx.Err())
	}

	return r.Snapshot(), nil
}

// Snapshot returns a copy of the messages matched so far.
func (r *Rendezvous) Snapshot() []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Message, len(r.buffer))
	copy(out, r.buffer)
	return out
}

func interrupted(err error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}
