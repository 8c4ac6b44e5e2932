// Package smtp implements the SMTP transport session used for campaign
// delivery: connect, STARTTLS, authenticate, send, and reconnect-on-drop.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"syscall"
	"time"

	mailtls "github.com/shineum/mailcast/internal/tls"
	"github.com/shineum/mailcast/internal/transport"
)

// dialTimeout bounds the initial TCP connect.
const dialTimeout = 30 * time.Second

// Config holds SMTP server credentials and connection options.
type Config struct {
	Host     string
	Port     int
	Email    string
	Password string

	// InsecureSkipVerify disables TLS certificate verification for the
	// STARTTLS upgrade. Local testing only.
	InsecureSkipVerify bool
	// CAFile optionally points at a PEM bundle replacing the system roots.
	CAFile string
}

// Session owns one SMTP connection lifecycle. It moves between two states:
// disconnected (client is nil) and authenticated (client is live). A Session
// is owned by a single dispatcher for the duration of one run and is not safe
// for concurrent use.
type Session struct {
	cfg    Config
	client *smtp.Client // nil while disconnected
}

// New creates a disconnected session. No network activity happens until
// Connect, Send, or Test is called.
func New(cfg Config) *Session {
	return &Session{cfg: cfg}
}

// Name returns the transport name.
func (s *Session) Name() string {
	return "smtp"
}

// Connected reports whether the session currently holds a live connection.
func (s *Session) Connected() bool {
	return s.client != nil
}

// Connect dials the server, upgrades with STARTTLS when the server offers it,
// and authenticates. Any previous connection is discarded first. On failure
// the session is left cleanly disconnected with no half-open socket.
func (s *Session) Connect(ctx context.Context) error {
	s.teardown()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open SMTP session with %s: %w", addr, err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig, err := mailtls.ClientConfig(s.cfg.Host, s.cfg.CAFile, s.cfg.InsecureSkipVerify)
		if err != nil {
			client.Close()
			return err
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.cfg.Email != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Email, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return fmt.Errorf("authentication failed for %s: %w", s.cfg.Email, err)
		}
	}

	s.client = client
	return nil
}

// Send transmits one message. If the session was never connected it connects
// first. A connection-level failure tears the session down and is reported
// wrapped in transport.ErrDropped so the caller can reconnect and retry; any
// other failure leaves the session connected and resets the transaction.
func (s *Session) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if s.client == nil {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.transmit(from, to, msg); err != nil {
		if dropped(err) {
			s.teardown()
			return fmt.Errorf("%w: %v", transport.ErrDropped, err)
		}
		if rerr := s.client.Reset(); rerr != nil && dropped(rerr) {
			s.teardown()
		}
		return err
	}
	return nil
}

// transmit runs one MAIL/RCPT/DATA transaction on the live client.
func (s *Session) transmit(from string, to []string, msg []byte) error {
	if err := s.client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := s.client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data stream: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish data stream: %w", err)
	}
	return nil
}

// Test opens a connection and authenticates, leaving the session open so the
// caller can verify connectivity before starting a campaign. Connect already
// produces human-readable causes (unreachable host, TLS failure, rejected
// credentials) and never leaves a half-open socket.
func (s *Session) Test(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// Close shuts the session down with QUIT, falling back to closing the socket.
// It is idempotent and safe on a never-opened session.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}

	err := s.client.Quit()
	if err != nil {
		s.client.Close()
	}
	s.client = nil

	if err != nil && !dropped(err) {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// teardown discards the client without protocol niceties. Used when the
// connection is already known to be gone.
func (s *Session) teardown() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

// dropped reports whether err indicates the server connection is gone rather
// than a per-message rejection.
func dropped(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		// 421 means the server is closing the channel.
		return protoErr.Code == 421
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}
