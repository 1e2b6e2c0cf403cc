package imap

import (
	"context"
	"fmt"
	"io"

	goimap "github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"mailfinder/internal/mailparse"
	"mailfinder/internal/models"
)

type fetchClient interface {
	Fetch(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error
	UidFetch(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error
}

var metadataItems = []goimap.FetchItem{
	goimap.FetchEnvelope,
	goimap.FetchUid,
	goimap.FetchFlags,
	goimap.FetchInternalDate,
	goimap.FetchRFC822Size,
}

// fetcher downloads messages in two stages: envelope metadata by sequence
// number, then full content by UID. Messages already at a stage are skipped.
type fetcher struct {
	client fetchClient
	log    *logrus.Entry
}

func newFetcher(c fetchClient, log *logrus.Entry) *fetcher {
	return &fetcher{client: c, log: log}
}

func (f *fetcher) Metadata(ctx context.Context, msgs []*models.Message) error {
	pending := make(map[uint32]*models.Message)
	seqset := new(goimap.SeqSet)
	for _, m := range msgs {
		if m.Has(models.MetadataFetched) {
			continue
		}
		pending[m.SeqNum] = m
		seqset.AddNum(m.SeqNum)
	}
	if len(pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := f.run(f.client.Fetch, seqset, metadataItems, func(fetched *goimap.Message) {
		target, ok := pending[fetched.SeqNum]
		if !ok {
			return
		}
		applyMetadata(target, fetched)
		delete(pending, fetched.SeqNum)
	})
	if err != nil {
		return fmt.Errorf("%w: fetch metadata: %v", ErrTransport, err)
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: no metadata returned for %d messages", ErrTransport, len(pending))
	}
	return nil
}

func (f *fetcher) Content(ctx context.Context, msgs []*models.Message) error {
	if err := f.Metadata(ctx, msgs); err != nil {
		return err
	}

	pending := make(map[uint32]*models.Message)
	uids := new(goimap.SeqSet)
	for _, m := range msgs {
		if m.Has(models.ContentFetched) {
			continue
		}
		pending[m.UID] = m
		uids.AddNum(m.UID)
	}
	if len(pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid}

	var readErr error
	err := f.run(f.client.UidFetch, uids, items, func(fetched *goimap.Message) {
		target, ok := pending[fetched.Uid]
		if !ok {
			return
		}
		body := fetched.GetBody(section)
		if body == nil {
			return
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = err
			return
		}
		f.applyContent(target, raw)
		delete(pending, fetched.Uid)
	})
	if err != nil {
		return fmt.Errorf("%w: fetch content: %v", ErrTransport, err)
	}
	if readErr != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransport, readErr)
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: no content returned for %d messages", ErrTransport, len(pending))
	}
	return nil
}

// run executes a FETCH and feeds every response to handle. The go-imap client
// closes ch once the command completes.
func (f *fetcher) run(
	fetch func(*goimap.SeqSet, []goimap.FetchItem, chan *goimap.Message) error,
	seqset *goimap.SeqSet,
	items []goimap.FetchItem,
	handle func(*goimap.Message),
) error {
	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- fetch(seqset, items, messages)
	}()

	for m := range messages {
		handle(m)
	}
	return <-done
}

func applyMetadata(m *models.Message, fetched *goimap.Message) {
	m.UID = fetched.Uid
	m.Flags = fetched.Flags
	m.InternalDate = fetched.InternalDate
	m.Size = fetched.Size

	if env := fetched.Envelope; env != nil {
		m.MessageID = env.MessageId
		m.Subject = env.Subject
		m.Date = env.Date
		if len(env.From) > 0 {
			m.From = env.From[0].Address()
		}
		m.To = m.To[:0]
		for _, addr := range env.To {
			m.To = append(m.To, addr.Address())
		}
	}
	m.Advance(models.MetadataFetched)
}

// applyContent keeps the raw message even when it cannot be decoded.
func (f *fetcher) applyContent(m *models.Message, raw []byte) {
	m.Raw = raw
	content, err := mailparse.Parse(raw)
	if err != nil {
		f.log.Warnf("Error parsing message UID %d: %v", m.UID, err)
	} else {
		m.BodyText = content.Text
		m.BodyHTML = content.HTML
		m.Attachments = content.Attachments
	}
	m.Advance(models.ContentFetched)
}
