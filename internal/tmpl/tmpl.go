// Package tmpl performs literal placeholder substitution for campaign templates.
package tmpl

import (
	"strings"

	"github.com/shineum/mailcast/internal/recipient"
)

// qrContentRef is the content-ID reference injected for {{qrcode}} so the HTML
// can display the inline QR attachment added by the message builder.
const qrContentRef = "cid:qrcode"

// Render substitutes {{name}}, {{link}}, and {{qrcode}} in the template with
// the record's values. This is plain substring replacement, not templating:
// every occurrence is replaced, unknown placeholders are left untouched, and
// rendering never fails. {{qrcode}} becomes "cid:qrcode" when the recipient
// has a QR code and the empty string otherwise.
func Render(template string, rec recipient.Record) string {
	out := strings.ReplaceAll(template, "{{name}}", rec.Name)
	out = strings.ReplaceAll(out, "{{link}}", rec.Link)

	qr := ""
	if rec.QRCode != "" {
		qr = qrContentRef
	}
	return strings.ReplaceAll(out, "{{qrcode}}", qr)
}
