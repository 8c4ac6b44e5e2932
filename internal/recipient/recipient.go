// Package recipient converts free-form recipient text into structured records.
//
// Input lines come from pasted spreadsheets, exported CSVs, or hand-typed
// address lists, so parsing is heuristic: the column count of each line decides
// how its fields are interpreted, and lines that do not yield a valid email
// address are skipped rather than reported.
package recipient

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// DefaultName is used when a recipient line carries no name column.
const DefaultName = "Valued Customer"

// emailPattern is deliberately stricter than RFC 5322: a plain
// local@domain.tld shape with a TLD of at least two letters.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Record is one campaign target.
type Record struct {
	Email  string
	Name   string
	Link   string
	QRCode string // path to a per-recipient QR code image, empty for none
}

// Parse converts raw multi-line recipient text into an ordered sequence of
// records. A first line containing "email" or "id" (case-insensitive) is
// treated as a header and discarded. Blank lines and lines whose email fails
// validation are skipped silently; the output order matches the input order
// of the surviving lines.
func Parse(raw string) []Record {
	lines := strings.Split(strings.TrimSpace(raw), "\n")

	start := 0
	if len(lines) > 0 && isHeader(lines[0]) {
		start = 1
	}

	var records []Record
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		rec := parseLine(line)
		if !emailPattern.MatchString(rec.Email) {
			slog.Debug("skipping recipient line with invalid email", "email", rec.Email)
			continue
		}
		if rec.Name == "" {
			rec.Name = DefaultName
		}
		records = append(records, rec)
	}
	return records
}

// isHeader reports whether the first line looks like a column header rather
// than data.
func isHeader(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	return strings.Contains(lower, "email") || strings.Contains(lower, "id")
}

// parseLine interprets one line by its comma-separated field count:
//
//	1 field:  email
//	2 fields: email, name
//	3 fields: email, qrcode, name  (when the middle field looks like a path)
//	          email, name, link    (otherwise)
//	4+ fields: id, email, qrcode, name
func parseLine(line string) Record {
	if !strings.Contains(line, ",") {
		return Record{Email: line, Link: "#"}
	}

	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch {
	case len(parts) >= 4:
		// The email sits in the second column in this form.
		return Record{Email: parts[1], QRCode: parts[2], Name: parts[3], Link: "#"}
	case len(parts) == 3:
		if looksLikePath(parts[1]) {
			return Record{Email: parts[0], QRCode: parts[1], Name: parts[2], Link: "#"}
		}
		return Record{Email: parts[0], Name: parts[1], Link: parts[2]}
	default:
		return Record{Email: parts[0], Name: parts[1], Link: "#"}
	}
}

// looksLikePath reports whether a field should be read as a QR code path
// instead of a display name. A name that happens to contain a slash is
// misclassified; that ambiguity is inherent to the input format and accepted.
func looksLikePath(s string) bool {
	if strings.ContainsAny(s, `/\`) {
		return true
	}
	_, err := os.Stat(s)
	return err == nil
}
