package models

import "time"

// FetchStage tracks how much of a message has been downloaded from the server.
type FetchStage int

const (
	Unfetched FetchStage = iota
	MetadataFetched
	ContentFetched
)

func (s FetchStage) String() string {
	switch s {
	case Unfetched:
		return "unfetched"
	case MetadataFetched:
		return "metadata"
	case ContentFetched:
		return "content"
	default:
		return "unknown"
	}
}

// Message represents a message in a remote folder. Envelope fields are valid
// once Stage reaches MetadataFetched, body fields once it reaches ContentFetched.
type Message struct {
	SeqNum uint32
	UID    uint32
	Stage  FetchStage

	MessageID    string
	From         string
	To           []string
	Subject      string
	Date         time.Time
	InternalDate time.Time
	Flags        []string
	Size         uint32

	Raw         []byte
	BodyText    string
	BodyHTML    string
	Attachments []string
}

// Advance moves the message to stage s. It reports false and leaves the
// message untouched when s would not move the stage forward.
func (m *Message) Advance(s FetchStage) bool {
	if s <= m.Stage {
		return false
	}
	m.Stage = s
	return true
}

// Has reports whether the message has been fetched at least up to stage s.
func (m *Message) Has(s FetchStage) bool {
	return m.Stage >= s
}
