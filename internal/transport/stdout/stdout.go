// Package stdout implements a dry-run Transport that prints message envelopes
// to standard output instead of sending them.
package stdout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
)

// Transport prints every would-be delivery in a human-readable format and
// always reports success.
type Transport struct {
	writer io.Writer
}

// New creates a Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a Transport that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Connect is a no-op.
func (t *Transport) Connect(_ context.Context) error {
	return nil
}

// Send prints the envelope and a short summary of the message.
func (t *Transport) Send(_ context.Context, from string, to []string, msg []byte) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Envelope-From: %s\n", from)
	fmt.Fprintf(&b, "Envelope-To: %s\n", strings.Join(to, ", "))
	if subject := subjectOf(msg); subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", subject)
	}
	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(msg)))
	b.WriteString("========================================\n")

	fmt.Fprint(t.writer, b.String())
	return nil
}

// Close is a no-op.
func (t *Transport) Close() error {
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "stdout"
}

// subjectOf extracts the Subject header from a raw message, returning the
// empty string when the message does not parse.
func subjectOf(msg []byte) string {
	parsed, err := mail.ReadMessage(bytes.NewReader(msg))
	if err != nil {
		return ""
	}
	return parsed.Header.Get("Subject")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
