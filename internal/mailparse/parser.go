package mailparse

import (
	"bytes"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var addressPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Content is the decoded body of a message
type Content struct {
	From        string
	Subject     string
	Text        string
	HTML        string
	Attachments []string
}

// Parse decodes a raw RFC 5322 message. Inline text/plain and text/html parts
// are concatenated in order; attachments are reported by file name.
func Parse(raw []byte) (*Content, error) {
	if len(raw) == 0 {
		return nil, io.EOF
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mr.Close()
	}()

	content := &Content{
		From: extractEmailAddress(mr.Header.Get("From")),
	}

	subject, err := DecodeHeader(mr.Header.Get("Subject"))
	if err != nil {
		subject = mr.Header.Get("Subject")
	}
	content.Subject = subject

	var text, html strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, err := h.ContentType()
			if err != nil {
				continue
			}
			body, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			switch contentType {
			case "text/plain":
				text.Write(body)
			case "text/html":
				html.Write(body)
			}
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil || filename == "" {
				filename = "unnamed"
			}
			content.Attachments = append(content.Attachments, filename)
		}
	}

	content.Text = text.String()
	content.HTML = html.String()
	return content, nil
}

// Simple regex to extract email address from "From" header, which may contain name and email
func extractEmailAddress(fromHeader string) string {
	return addressPattern.FindString(fromHeader)
}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to plain text
func DecodeHeader(encoded string) (string, error) {
	decoder := new(mime.WordDecoder)
	decoder.CharsetReader = charset.Reader
	decoded, err := decoder.DecodeHeader(encoded)
	if err != nil {
		return "", err
	}
	return decoded, nil
}
