package archive

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"

	"mailfinder/internal/logging"
	"mailfinder/internal/models"
)

const unknownSender = "MAILER-DAEMON"

// WriteMbox writes the raw content of msgs to w in mbox format and returns the
// number of messages written. Messages whose content was not fetched are skipped.
func WriteMbox(w io.Writer, msgs []*models.Message) (int, error) {
	mw := mbox.NewWriter(w)

	written := 0
	for _, m := range msgs {
		if !m.Has(models.ContentFetched) || len(m.Raw) == 0 {
			logging.Log.Warnf("Message UID %d has no content, not archived", m.UID)
			continue
		}

		from := m.From
		if from == "" {
			from = unknownSender
		}
		date := m.InternalDate
		if date.IsZero() {
			date = time.Now()
		}

		entry, err := mw.CreateMessage(from, date)
		if err != nil {
			return written, fmt.Errorf("creating mbox entry: %w", err)
		}
		if _, err := entry.Write(m.Raw); err != nil {
			return written, fmt.Errorf("writing message UID %d: %w", m.UID, err)
		}
		written++
	}

	if err := mw.Close(); err != nil {
		return written, fmt.Errorf("closing mbox writer: %w", err)
	}
	return written, nil
}

// SaveMbox writes msgs to a new mbox file at path, replacing any existing file.
func SaveMbox(path string, msgs []*models.Message) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	n, err := WriteMbox(f, msgs)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
