package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailfinder/internal/arrival"
	"mailfinder/internal/config"
	"mailfinder/internal/filter"
	"mailfinder/internal/imap"
	"mailfinder/internal/logging"
	"mailfinder/internal/models"
	"mailfinder/internal/poll"
)

type Options struct {
	// Folder is opened read-only for every call. Defaults to INBOX.
	Folder string
}

// Service finds messages in a remote folder, waiting a bounded time for new
// ones when none match yet.
type Service struct {
	dialer imap.Dialer
	opts   Options
}

// New creates a new Service using dialer to open sessions
func New(dialer imap.Dialer, opts Options) *Service {
	if opts.Folder == "" {
		opts.Folder = config.DefaultFolder
	}
	return &Service{
		dialer: dialer,
		opts:   opts,
	}
}

// Find orchestrates one retrieval:
// connect → open folder → watch arrivals → fetch metadata → search → fetch content or poll
//
// Messages already in the folder are searched once. When none match, arrivals
// are collected until one matches or policy is exhausted; exhaustion is not an
// error and yields an empty result. Returned messages have their content fetched.
func (s *Service) Find(ctx context.Context, filters []filter.Predicate, creds models.Credentials, policy models.WaitPolicy) ([]*models.Message, error) {
	log := logging.Log.WithFields(logrus.Fields{
		"trace_id": uuid.New().String(),
		"folder":   s.opts.Folder,
		"user":     creds.Username,
	})
	match := filter.All(filters...)

	log.Debug("Connecting")
	conn, err := s.dialer.Dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer closeLogged(log, "connection", conn.Close)

	folder, err := conn.OpenReadOnly(ctx, s.opts.Folder)
	if err != nil {
		return nil, err
	}
	defer closeLogged(log, "folder", folder.Close)
	log.Debug("Folder open")

	rendezvous := arrival.New(arrival.Options{
		Match:          match,
		Load:           folder.FetchMetadata,
		Refresh:        folder.Refresh,
		ArrivalTimeout: policy.ArrivalTimeout,
	})
	folder.Watch(rendezvous)
	log.Debug("Listener registered")

	existing := folder.Messages()
	if err := folder.FetchMetadata(ctx, existing); err != nil {
		return nil, err
	}
	log.WithField("messages", len(existing)).Debug("Metadata fetched")

	found, err := filter.Search(existing, match)
	if err != nil {
		return nil, err
	}
	log.WithField("matches", len(found)).Debug("Searched")

	if len(found) == 0 {
		log.WithFields(logrus.Fields{
			"interval": policy.PollInterval,
			"attempts": policy.PollAttempts,
		}).Debug("Polling for arrivals")

		found, err = poll.Until(ctx, poll.Policy{
			Interval: policy.PollInterval,
			Attempts: policy.PollAttempts,
		}, rendezvous.Collect, poll.NonEmpty[*models.Message])
		if err != nil {
			return nil, interrupted(ctx, err)
		}
	}

	if len(found) > 0 {
		if err := folder.FetchContent(ctx, found); err != nil {
			return nil, err
		}
		log.Debug("Content fetched")
	}

	log.WithField("found", len(found)).Info("Retrieval done")
	return found, nil
}

// interrupted reports a cancellation during the poller's sleep the same way
// as one inside the rendezvous.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, arrival.ErrInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %w", arrival.ErrInterrupted, err)
}

func closeLogged(log *logrus.Entry, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warnf("Error closing %s: %v", what, err)
	}
}
