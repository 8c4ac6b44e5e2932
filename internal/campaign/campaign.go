// Package campaign drives a bulk-email run: one personalized message per
// recipient, sent sequentially over a single transport, with throttling
// between sends and per-recipient failure isolation.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shineum/mailcast/internal/message"
	"github.com/shineum/mailcast/internal/recipient"
	"github.com/shineum/mailcast/internal/tmpl"
	"github.com/shineum/mailcast/internal/transport"
)

var (
	// ErrNoRecipients rejects a run with an empty recipient list.
	ErrNoRecipients = errors.New("campaign has no recipients")
	// ErrEmptyContent rejects a run where both subject and body are blank.
	ErrEmptyContent = errors.New("campaign subject and body are both empty")
)

const (
	// defaultDelay applies when the request does not set a throttle.
	defaultDelay = 10 * time.Second
	// minDelay is the floor for the inter-send throttle.
	minDelay = 5 * time.Second
	// maxJitter is added on top of the throttle to avoid a fixed send cadence.
	maxJitter = time.Second
)

// Status is the recorded result of one delivery attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Outcome records the result of one recipient's delivery attempt. Outcomes
// are created the moment an attempt resolves and never mutated afterwards.
type Outcome struct {
	Email  string
	Status Status
	Err    string // causal error text, empty on success
	Time   time.Time
}

// Summary aggregates a finished (or interrupted) run.
type Summary struct {
	Sent      int
	Failed    int
	Attempted int
	Total     int
}

// Request describes one campaign. It is treated as a read-only snapshot for
// the duration of the run.
type Request struct {
	Subject      string
	HTMLTemplate string
	Recipients   []recipient.Record
	// StaticImages maps Content-ID to image path, embedded in every message.
	StaticImages map[string]string
	From         string
	ReplyTo      string
	// Delay is the inter-send throttle. Zero means the default; values below
	// the floor are clamped up.
	Delay time.Duration
	// QRDir is the directory against which relative QR code paths resolve.
	QRDir string
}

// Dispatcher runs campaigns over a transport it owns exclusively for the
// duration of each run. The loop is strictly sequential: no two recipients
// are ever processed concurrently.
type Dispatcher struct {
	transport  transport.Transport
	log        *slog.Logger
	onProgress func(done, total int)

	// sleep and jitter are swapped out by tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithProgress registers a callback invoked after every recipient is
// processed, regardless of outcome. done is 1-based and monotonically
// increasing.
func WithProgress(fn func(done, total int)) Option {
	return func(d *Dispatcher) { d.onProgress = fn }
}

// New creates a Dispatcher sending through the given transport.
func New(t transport.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		log:       slog.Default(),
		sleep:     sleepWithContext,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one campaign and returns the per-recipient outcomes in input
// order plus a summary. The transport is connected up front and closed when
// the run ends; a connect failure aborts the run before any send. After that
// point a per-recipient failure never aborts the loop. Cancellation is
// observed at recipient boundaries and during the throttle sleep; outcomes
// recorded before the interruption are retained and the context error is
// returned alongside them.
func (d *Dispatcher) Run(ctx context.Context, req Request) ([]Outcome, Summary, error) {
	if len(req.Recipients) == 0 {
		return nil, Summary{}, ErrNoRecipients
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.HTMLTemplate) == "" {
		return nil, Summary{}, ErrEmptyContent
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "Campaign - " + time.Now().Format("2006-01-02")
	}

	delay := req.Delay
	if delay == 0 {
		delay = defaultDelay
	}
	if delay < minDelay {
		delay = minDelay
	}

	total := len(req.Recipients)
	d.log.Info("starting campaign",
		"recipients", total,
		"transport", d.transport.Name(),
	)

	if err := d.transport.Connect(ctx); err != nil {
		return nil, Summary{Total: total}, fmt.Errorf("failed to establish transport: %w", err)
	}
	defer func() {
		if err := d.transport.Close(); err != nil {
			d.log.Warn("failed to close transport", "error", err)
		}
	}()

	outcomes := make([]Outcome, 0, total)
	var runErr error

	for i, rec := range req.Recipients {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		err := d.deliver(ctx, req, subject, rec)
		outcome := Outcome{Email: rec.Email, Time: time.Now()}
		if err != nil {
			outcome.Status = StatusFailed
			outcome.Err = err.Error()
			d.log.Info("failed", "to", rec.Email, "error", err)
		} else {
			outcome.Status = StatusSent
			d.log.Info("sent", "to", rec.Email)
		}
		outcomes = append(outcomes, outcome)

		if d.onProgress != nil {
			d.onProgress(i+1, total)
		}

		if i+1 < total {
			wait := delay + d.jitter()
			d.log.Debug("waiting before next send", "delay", wait)
			if err := d.sleep(ctx, wait); err != nil {
				runErr = err
				break
			}
		}
	}

	summary := summarize(outcomes, total)
	d.log.Info("campaign complete",
		"sent", summary.Sent,
		"failed", summary.Failed,
		"attempted", summary.Attempted,
		"total", summary.Total,
	)
	return outcomes, summary, runErr
}

// deliver renders, builds, and sends the message for a single recipient,
// reconnecting once and retrying the send when the transport drops mid-send.
// A panic anywhere in the per-recipient path is converted to an error so a
// single bad recipient cannot take down the whole run.
func (d *Dispatcher) deliver(ctx context.Context, req Request, subject string, rec recipient.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()

	html := tmpl.Render(req.HTMLTemplate, rec)

	msg, err := message.Build(message.Params{
		From:         req.From,
		To:           rec.Email,
		Subject:      subject,
		ReplyTo:      req.ReplyTo,
		HTML:         html,
		StaticImages: req.StaticImages,
		QRCodePath:   resolveQRPath(rec.QRCode, req.QRDir),
	})
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	err = d.transport.Send(ctx, req.From, []string{rec.Email}, msg)
	if errors.Is(err, transport.ErrDropped) {
		d.log.Warn("connection dropped, reconnecting", "to", rec.Email)
		if cerr := d.transport.Connect(ctx); cerr != nil {
			return fmt.Errorf("reconnect failed: %w", cerr)
		}
		err = d.transport.Send(ctx, req.From, []string{rec.Email}, msg)
	}
	return err
}

// resolveQRPath resolves a recipient's QR code path. Relative paths that do
// not exist as given are looked up under the conventional QR directory.
func resolveQRPath(path, qrDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if qrDir != "" {
		return filepath.Join(qrDir, path)
	}
	return path
}

func summarize(outcomes []Outcome, total int) Summary {
	s := Summary{Attempted: len(outcomes), Total: total}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSent:
			s.Sent++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
