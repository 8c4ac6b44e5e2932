// Package message assembles outbound multipart/related MIME messages with an
// HTML body and inline images referenced by Content-ID.
package message

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// qrContentID is the fixed Content-ID for the per-recipient QR code part,
// matching the "cid:qrcode" reference the renderer injects into the HTML.
const qrContentID = "qrcode"

// Params describes one message to build.
type Params struct {
	From    string
	To      string
	Subject string
	// ReplyTo falls back to From when empty.
	ReplyTo string
	HTML    string
	// StaticImages maps Content-ID to image file path. Every entry becomes
	// an inline part the HTML can reference as cid:<key>.
	StaticImages map[string]string
	// QRCodePath, when non-empty, adds one more inline part with
	// Content-ID "qrcode".
	QRCodePath string
}

// Build produces the raw message bytes for one recipient.
//
// An unreadable image file (static or QR) is not fatal: the part is skipped
// with a warning and construction proceeds, so one broken image cannot block
// a whole campaign.
func Build(p Params) ([]byte, error) {
	replyTo := p.ReplyTo
	if replyTo == "" {
		replyTo = p.From
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", p.From)
	fmt.Fprintf(&buf, "To: %s\r\n", p.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", p.Subject)
	fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID(p.From))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%q\r\n\r\n", writer.Boundary())

	htmlHeader := make(textproto.MIMEHeader)
	htmlHeader.Set("Content-Type", "text/html; charset=UTF-8")
	part, err := writer.CreatePart(htmlHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTML part: %w", err)
	}
	if _, err := part.Write([]byte(p.HTML)); err != nil {
		return nil, fmt.Errorf("failed to write HTML part: %w", err)
	}

	// Sorted CID order keeps the output deterministic.
	for _, cid := range sortedKeys(p.StaticImages) {
		path := p.StaticImages[cid]
		if err := attachInline(writer, cid, path, filepath.Base(path)); err != nil {
			slog.Warn("could not embed image, skipping",
				"cid", cid,
				"path", path,
				"error", err,
			)
		}
	}

	if p.QRCodePath != "" {
		if err := attachInline(writer, qrContentID, p.QRCodePath, "qrcode.png"); err != nil {
			slog.Warn("could not embed QR code, skipping",
				"path", p.QRCodePath,
				"error", err,
			)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart message: %w", err)
	}
	return buf.Bytes(), nil
}

// attachInline adds one base64-encoded inline image part referenced by the
// given Content-ID.
func attachInline(w *multipart.Writer, cid, path, filename string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType(path))
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-ID", fmt.Sprintf("<%s>", cid))
	header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%s", filename))

	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write([]byte(encodeBase64WithLineBreaks(data))); err != nil {
		return fmt.Errorf("failed to write image part: %w", err)
	}
	return nil
}

// contentType derives the MIME type from the file extension, defaulting to
// image/png for extensionless QR code files.
func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "image/png"
}

// messageID builds a unique Message-ID using the sender's domain.
func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i+1 < len(from) {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line
// breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
