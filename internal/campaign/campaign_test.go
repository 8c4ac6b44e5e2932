package campaign

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mailcast/internal/recipient"
	"github.com/shineum/mailcast/internal/transport"
)

type sentMsg struct {
	from string
	to   []string
	msg  []byte
}

// fakeTransport scripts transport behavior per call: error queues are
// consumed one entry per Connect/Send, nil entries meaning success.
type fakeTransport struct {
	connects    int
	connectErrs []error
	sends       []sentMsg
	sendErrs    []error
	sendPanics  map[int]bool
	closed      int
}

func (f *fakeTransport) Connect(_ context.Context) error {
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Send(_ context.Context, from string, to []string, msg []byte) error {
	idx := len(f.sends)
	f.sends = append(f.sends, sentMsg{from: from, to: to, msg: msg})
	if f.sendPanics[idx] {
		panic("transport blew up")
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

func (f *fakeTransport) Name() string { return "fake" }

// newTestDispatcher silences logging and replaces the real sleep and jitter,
// recording the requested throttle durations.
func newTestDispatcher(ft transport.Transport) (*Dispatcher, *[]time.Duration) {
	var waits []time.Duration
	d := New(ft, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	d.jitter = func() time.Duration { return 0 }
	d.sleep = func(_ context.Context, dur time.Duration) error {
		waits = append(waits, dur)
		return nil
	}
	return d, &waits
}

func makeRecipients(n int) []recipient.Record {
	recs := make([]recipient.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, recipient.Record{
			Email: fmt.Sprintf("user%d@example.com", i),
			Name:  fmt.Sprintf("User %d", i),
			Link:  "#",
		})
	}
	return recs
}

func TestRunAllSent(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	d, waits := newTestDispatcher(ft)

	recs := makeRecipients(3)
	outcomes, summary, err := d.Run(context.Background(), Request{
		Subject:      "Hello",
		HTMLTemplate: "<p>Hi {{name}}</p>",
		Recipients:   recs,
		From:         "sender@example.com",
		Delay:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Email != recs[i].Email {
			t.Errorf("outcome %d: got %q, want input order preserved", i, o.Email)
		}
		if o.Status != StatusSent {
			t.Errorf("outcome %d: got status %q", i, o.Status)
		}
	}

	want := Summary{Sent: 3, Failed: 0, Attempted: 3, Total: 3}
	if summary != want {
		t.Errorf("summary: got %+v, want %+v", summary, want)
	}
	if ft.connects != 1 {
		t.Errorf("connects: got %d, want 1", ft.connects)
	}
	if ft.closed != 1 {
		t.Errorf("closes: got %d, want 1", ft.closed)
	}
	// No throttle after the last recipient.
	if len(*waits) != 2 {
		t.Errorf("throttle sleeps: got %d, want 2", len(*waits))
	}
}

func TestRunValidation(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	d, _ := newTestDispatcher(ft)

	_, _, err := d.Run(context.Background(), Request{Subject: "x", HTMLTemplate: "y"})
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("got %v, want ErrNoRecipients", err)
	}

	_, _, err = d.Run(context.Background(), Request{
		Subject:      "  ",
		HTMLTemplate: "\n",
		Recipients:   makeRecipients(1),
	})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("got %v, want ErrEmptyContent", err)
	}

	if ft.connects != 0 {
		t.Errorf("rejected runs must not touch the network, got %d connects", ft.connects)
	}
}

func TestRunConnectFailureAbortsBeforeSending(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{connectErrs: []error{errors.New("auth rejected")}}
	d, _ := newTestDispatcher(ft)

	outcomes, _, err := d.Run(context.Background(), Request{
		Subject:    "Hello",
		Recipients: makeRecipients(2),
	})
	if err == nil || !strings.Contains(err.Error(), "auth rejected") {
		t.Errorf("got %v, want wrapped connect error", err)
	}
	if len(outcomes) != 0 || len(ft.sends) != 0 {
		t.Errorf("nothing should be sent after a connect failure")
	}
}

func TestRunPerRecipientFailureContinues(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{sendErrs: []error{nil, errors.New("mailbox full"), nil}}
	d, _ := newTestDispatcher(ft)

	outcomes, summary, err := d.Run(context.Background(), Request{
		Subject:    "Hello",
		Recipients: makeRecipients(3),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcomes[0].Status != StatusSent || outcomes[2].Status != StatusSent {
		t.Errorf("surrounding recipients must still be sent: %+v", outcomes)
	}
	if outcomes[1].Status != StatusFailed || !strings.Contains(outcomes[1].Err, "mailbox full") {
		t.Errorf("outcome 1: got %+v, want failed with causal error", outcomes[1])
	}
	if summary.Sent != 2 || summary.Failed != 1 {
		t.Errorf("summary: got %+v", summary)
	}
}

func TestRunReconnectOnceRetrySucceeds(t *testing.T) {
	t.Parallel()

	dropErr := fmt.Errorf("%w: EOF", transport.ErrDropped)
	ft := &fakeTransport{sendErrs: []error{dropErr, nil}}
	d, _ := newTestDispatcher(ft)

	outcomes, summary, err := d.Run(context.Background(), Request{
		Subject:    "Hello",
		Recipients: makeRecipients(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcomes[0].Status != StatusSent {
		t.Errorf("got %+v, want sent after successful retry", outcomes[0])
	}
	if ft.connects != 2 {
		t.Errorf("connects: got %d, want initial connect plus exactly one reconnect", ft.connects)
	}
	if len(ft.sends) != 2 {
		t.Errorf("sends: got %d, want original attempt plus one retry", len(ft.sends))
	}
	if summary.Sent != 1 {
		t.Errorf("summary: got %+v", summary)
	}
}

func TestRunReconnectOnceRetryFails(t *testing.T) {
	t.Parallel()

	dropErr := fmt.Errorf("%w: EOF", transport.ErrDropped)
	ft := &fakeTransport{sendErrs: []error{dropErr, dropErr, nil}}
	d, _ := newTestDispatcher(ft)

	outcomes, summary, err := d.Run(context.Background(), Request{
		Subject:    "Hello",
		Recipients: makeRecipients(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcomes[0].Status != StatusFailed {
		t.Errorf("outcome 0: got %+v, want failed after single retry", outcomes[0])
	}
	if outcomes[1].Status != StatusSent {
		t.Errorf("outcome 1: got %+v, loop must continue past the failure", outcomes[1])
	}
	// Initial connect, one reconnect for recipient 0, no further retries.
	if ft.connects != 2 {
		t.Errorf("connects: got %d, want 2", ft.connects)
	}
	if len(ft.sends) != 3 {
		t.Errorf("sends: got %d, want 3 (attempt, retry, next recipient)", len(ft.sends))
	}
	if summary.Sent != 1 || summary.Failed != 1 {
		t.Errorf("summary: got %+v", summary)
	}
}

func TestRunReconnectFailureRecordedAsOutcome(t *testing.T) {
	t.Parallel()

	dropErr := fmt.Errorf("%w: EOF", transport.ErrDropped)
	ft := &fakeTransport{
		sendErrs:    []error{dropErr},
		connectErrs: []error{nil, errors.New("host unreachable")},
	}
	d, _ := newTestDispatcher(ft)

	outcomes, _, err := d.Run(context.Background(), Request{
		Subject:    "Hello",
		Recipients: makeRecipients(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Status != StatusFailed || !strings.Contains(outcomes[0].Err, "reconnect failed") {
		t.Errorf("got %+v, want failed outcome naming the reconnect", outcomes[0])
	}
}

func TestRunPanicIsolatedToRecipient(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{sendPanics: map[int]bool{0: true}}
	d, _ := newTestDispatcher(ft)

	outcomes, summary, err := d.Run(context.Background(), Request{
		Subject:    "Hello",
		Recipients: makeRecipients(2),
	})
	if err != nil {
		t.Fatalf("panic must not escape the loop: %v", err)
	}
	if outcomes[0].Status != StatusFailed || !strings.Contains(outcomes[0].Err, "unexpected failure") {
		t.Errorf("outcome 0: got %+v", outcomes[0])
	}
	if outcomes[1].Status != StatusSent {
		t.Errorf("outcome 1: got %+v, want loop to continue", outcomes[1])
	}
	if summary.Attempted != 2 {
		t.Errorf("summary: got %+v", summary)
	}
}

func TestRunBlankSubjectSynthesized(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	d, _ := newTestDispatcher(ft)

	_, _, err := d.Run(context.Background(), Request{
		Subject:      "   ",
		HTMLTemplate: "<p>hi</p>",
		Recipients:   makeRecipients(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte("Subject: Campaign - " + time.Now().Format("2006-01-02"))
	if !bytes.Contains(ft.sends[0].msg, want) {
		t.Errorf("built message missing synthesized subject %q", want)
	}
}

func TestRunCancellationBetweenRecipients(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	d, _ := newTestDispatcher(ft)

	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	outcomes, summary, err := d.Run(ctx, Request{
		Subject:    "Hello",
		Recipients: makeRecipients(3),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want the one recorded before cancellation", len(outcomes))
	}
	if summary.Attempted != 1 || summary.Total != 3 {
		t.Errorf("summary must reflect partial completion: %+v", summary)
	}
	if ft.closed != 1 {
		t.Errorf("transport must still be closed, got %d", ft.closed)
	}
}

func TestRunProgressReported(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{sendErrs: []error{nil, errors.New("boom"), nil}}
	d, _ := newTestDispatcher(ft)

	type step struct{ done, total int }
	var steps []step
	d.onProgress = func(done, total int) {
		steps = append(steps, step{done, total})
	}

	if _, _, err := d.Run(context.Background(), Request{
		Subject:    "Hello",
		Recipients: makeRecipients(3),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []step{{1, 3}, {2, 3}, {3, 3}}
	if len(steps) != len(want) {
		t.Fatalf("got %d progress updates, want %d", len(steps), len(want))
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("progress %d: got %+v, want %+v (independent of outcome)", i, steps[i], want[i])
		}
	}
}

func TestRunMissingAttachmentNotFatal(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	d, _ := newTestDispatcher(ft)

	outcomes, _, err := d.Run(context.Background(), Request{
		Subject:      "Hello",
		HTMLTemplate: `<img src="cid:logo">`,
		Recipients:   makeRecipients(1),
		StaticImages: map[string]string{"logo": "/nonexistent/logo.png"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Status != StatusSent {
		t.Errorf("got %+v, want sent despite the missing attachment", outcomes[0])
	}
}

func TestRunDelayClampedAndDefaulted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		delay time.Duration
		want  time.Duration
	}{
		{"below floor clamped", 1 * time.Second, minDelay},
		{"zero uses default", 0, defaultDelay},
		{"above floor kept", 8 * time.Second, 8 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ft := &fakeTransport{}
			d, waits := newTestDispatcher(ft)

			if _, _, err := d.Run(context.Background(), Request{
				Subject:    "Hello",
				Recipients: makeRecipients(2),
				Delay:      tt.delay,
			}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(*waits) != 1 || (*waits)[0] != tt.want {
				t.Errorf("throttle: got %v, want [%v]", *waits, tt.want)
			}
		})
	}
}

func TestResolveQRPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		qrDir string
		want  string
	}{
		{"empty stays empty", "", "qrcodes", ""},
		{"absolute untouched", "/data/qr/a.png", "qrcodes", "/data/qr/a.png"},
		{"relative joined with dir", "a.png", "qrcodes", "qrcodes/a.png"},
		{"no dir leaves relative", "a.png", "", "a.png"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := resolveQRPath(tt.path, tt.qrDir); got != tt.want {
				t.Errorf("resolveQRPath(%q, %q): got %q, want %q", tt.path, tt.qrDir, got, tt.want)
			}
		})
	}
}
