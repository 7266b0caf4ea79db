package newsletter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/email"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/sqlitepool"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/utils"
)

type sliceAudience []string

func (a sliceAudience) ForEachConfirmed(_ context.Context, fn func(string) error) error {
	for _, e := range a {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

type failingAudience struct{ err error }

func (a failingAudience) ForEachConfirmed(context.Context, func(string) error) error { return a.err }

type recordingSender struct {
	mu     sync.Mutex
	to     []string
	failOn string
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.To == s.failOn {
		return &email.TransportError{StatusCode: 503, Message: "unavailable"}
	}
	s.to = append(s.to, msg.To)
	return nil
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.to...)
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []map[string]int
	err   error
}

func (m *recordingMetrics) RecordCounts(_ context.Context, counts map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, counts)
	return m.err
}

type recordingEvents struct {
	mu       sync.Mutex
	payloads []any
}

func (e *recordingEvents) Publish(_ context.Context, _ string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, payload)
	return stderrors.New("nats unavailable")
}

var testIssue = Issue{Title: "Issue #1", HTML: "<p>hi</p>", Text: "hi"}

func newTestDeduplicator(t *testing.T) *idempotency.Deduplicator {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "newsletter.db"),
		PoolSize: 8,
		Schema:   sqlitepool.Schema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	poll := utils.NewRetryConfig(20, 5*time.Millisecond, 20*time.Millisecond)
	return idempotency.NewDeduplicator(idempotency.NewSQLiteStore(pool), poll)
}

func TestFanout_SkipsInvalidStoredEmails(t *testing.T) {
	sender := &recordingSender{}
	fanout := NewFanout(sliceAudience{"a@example.com", "definitely not an email", "b@example.com"}, sender)

	res, err := fanout.Deliver(context.Background(), testIssue)
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 2, Skipped: 1}, res)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sender.recipients())
}

func TestFanout_AbortsOnTransportFailure(t *testing.T) {
	sender := &recordingSender{failOn: "b@example.com"}
	fanout := NewFanout(sliceAudience{"a@example.com", "b@example.com", "c@example.com"}, sender)

	res, err := fanout.Deliver(context.Background(), testIssue)
	require.Error(t, err)

	var su errors.ServiceUnavailable
	assert.True(t, stderrors.As(err, &su))
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []string{"a@example.com"}, sender.recipients())
}

func TestFanout_AudienceErrorIsUnexpected(t *testing.T) {
	fanout := NewFanout(failingAudience{err: stderrors.New("disk I/O error")}, &recordingSender{})

	_, err := fanout.Deliver(context.Background(), testIssue)
	var unexpected errors.Unexpected
	assert.True(t, stderrors.As(err, &unexpected))
}

func TestFanout_EmptyAudience(t *testing.T) {
	res, err := NewFanout(sliceAudience{}, &recordingSender{}).Deliver(context.Background(), testIssue)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestPublisher_ReplayDoesNotResend(t *testing.T) {
	sender := &recordingSender{}
	metrics := &recordingMetrics{}
	evts := &recordingEvents{}
	publisher := NewPublisher(
		newTestDeduplicator(t),
		NewFanout(sliceAudience{"a@example.com", "bad"}, sender),
		metrics,
		evts,
	)
	ctx := context.Background()

	first, replayed, err := publisher.Publish(ctx, "admin", "key-1", testIssue)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := publisher.Publish(ctx, "admin", "key-1", testIssue)
	require.NoError(t, err)
	assert.True(t, replayed)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a@example.com"}, sender.recipients())

	var body PublishedBody
	require.NoError(t, json.Unmarshal(first.Body, &body))
	assert.Equal(t, PublishedBody{Message: `Newsletter "Issue #1" has been published.`, Delivered: 1, Skipped: 1}, body)

	// side channels only fire for the fresh run, and their failures are swallowed
	require.Len(t, metrics.calls, 1)
	assert.Equal(t, map[string]int{MetricDeliveries: 1, MetricSkipped: 1}, metrics.calls[0])
	assert.Len(t, evts.payloads, 1)
}

func TestPublisher_ConcurrentDuplicatesSendOnce(t *testing.T) {
	sender := &recordingSender{}
	publisher := NewPublisher(
		newTestDeduplicator(t),
		NewFanout(sliceAudience{"a@example.com", "b@example.com"}, sender),
		nil,
		nil,
	)

	const n = 8
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _, err := publisher.Publish(context.Background(), "admin", "same-key", testIssue)
			bodies[i], errs[i] = resp.Body, err
		}(i)
	}
	wg.Wait()

	var want []byte
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			var conflict errors.Conflict
			assert.True(t, stderrors.As(errs[i], &conflict), "unexpected error: %v", errs[i])
			continue
		}
		if want == nil {
			want = bodies[i]
		}
		assert.Equal(t, want, bodies[i])
	}
	assert.NotNil(t, want)
	assert.Len(t, sender.recipients(), 2)
}

func TestPublisher_MetricsFailureDoesNotFailPublish(t *testing.T) {
	publisher := NewPublisher(
		newTestDeduplicator(t),
		NewFanout(sliceAudience{"a@example.com"}, &recordingSender{}),
		&recordingMetrics{err: stderrors.New("throttled")},
		nil,
	)

	resp, _, err := publisher.Publish(context.Background(), "admin", "key-1", testIssue)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
