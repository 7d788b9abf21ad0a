package hiveboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loophive/hiveboard/pkg/model"
)

// Retry policy for 5xx and connection errors.
const (
	maxSendAttempts      = 5
	defaultRetryAfter    = 2 * time.Second
	initialBackoffDelay  = 1 * time.Second
	maxBackoffDelay      = 60 * time.Second
	backoffMultiplier    = 2.0
	backoffRandomisation = 0
)

type queuedEvent struct {
	envelope model.Envelope
	event    model.IncomingEvent
}

type ingestRequest struct {
	Envelope model.Envelope        `json:"envelope"`
	Events   []model.IncomingEvent `json:"events"`
}

type ingestResponse struct {
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Warnings []string       `json:"warnings"`
	Details  map[string]any `json:"details"`
}

// transport buffers events and delivers them in batches from a single
// background worker. Enqueue never blocks and never fails the caller.
type transport struct {
	endpoint      string
	apiKey        string
	flushInterval time.Duration
	batchSize     int
	maxQueue      int
	client        *http.Client
	logger        *slog.Logger

	// Shrunk by tests to avoid real backoff waits.
	retryInitialDelay time.Duration

	mu         sync.Mutex
	queue      []queuedEvent
	closed     bool
	dropWarned bool

	flushCh    chan struct{}
	stopCh     chan struct{}
	workerDone chan struct{}
}

func newTransport(cfg Config) *transport {
	t := &transport{
		endpoint:          cfg.Endpoint,
		apiKey:            cfg.APIKey,
		flushInterval:     cfg.FlushInterval,
		batchSize:         cfg.BatchSize,
		maxQueue:          cfg.MaxQueueSize,
		client:            &http.Client{Timeout: cfg.HTTPTimeout},
		logger:            cfg.Logger.With("component", "hiveboard.transport"),
		retryInitialDelay: initialBackoffDelay,
		flushCh:           make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		workerDone:        make(chan struct{}),
	}
	go t.run()
	return t
}

// Enqueue buffers one event. A full buffer drops the oldest event to
// admit the new one. Events submitted after shutdown are discarded.
func (t *transport) Enqueue(env model.Envelope, e model.IncomingEvent) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if len(t.queue) >= t.maxQueue {
		t.queue = t.queue[1:]
		if !t.dropWarned {
			t.logger.Warn("event buffer full, dropping oldest events", "capacity", t.maxQueue)
			t.dropWarned = true
		}
	} else {
		t.dropWarned = false
	}
	t.queue = append(t.queue, queuedEvent{envelope: env, event: e})
	nudge := len(t.queue) >= t.batchSize
	t.mu.Unlock()

	if nudge {
		t.Flush()
	}
}

// Flush wakes the worker for an immediate drain.
func (t *transport) Flush() {
	select {
	case t.flushCh <- struct{}{}:
	default:
	}
}

// Shutdown stops the worker, joining it with the timeout, then drains
// any remaining events synchronously.
func (t *transport) Shutdown(timeout time.Duration) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stopCh)
	select {
	case <-t.workerDone:
	case <-time.After(timeout):
		t.logger.Warn("transport worker did not stop within timeout", "timeout", timeout)
	}

	for t.drainOnce() {
	}
	t.client.CloseIdleConnections()
}

func (t *transport) run() {
	defer close(t.workerDone)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-t.flushCh:
		case <-t.stopCh:
			return
		}
		t.drainOnce()
	}
}

// drainOnce takes up to one batch off the buffer, groups it by
// envelope so events from distinct agents never share a request, and
// sends each group. Reports whether anything was drained.
func (t *transport) drainOnce() bool {
	t.mu.Lock()
	n := len(t.queue)
	if n > t.batchSize {
		n = t.batchSize
	}
	batch := make([]queuedEvent, n)
	copy(batch, t.queue[:n])
	t.queue = t.queue[n:]
	t.mu.Unlock()

	if len(batch) == 0 {
		return false
	}
	for _, group := range groupByEnvelope(batch) {
		t.send(group.envelope, group.events)
	}
	return true
}

type envelopeGroup struct {
	envelope model.Envelope
	events   []model.IncomingEvent
}

func groupByEnvelope(batch []queuedEvent) []*envelopeGroup {
	index := make(map[string]*envelopeGroup)
	var ordered []*envelopeGroup
	for _, q := range batch {
		key, err := json.Marshal(q.envelope)
		if err != nil {
			continue
		}
		g, ok := index[string(key)]
		if !ok {
			g = &envelopeGroup{envelope: q.envelope}
			index[string(key)] = g
			ordered = append(ordered, g)
		}
		g.events = append(g.events, q.event)
	}
	return ordered
}

// send posts one batch, retrying per policy. Never returns an error:
// undeliverable batches are logged and discarded.
func (t *transport) send(env model.Envelope, events []model.IncomingEvent) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.retryInitialDelay
	bo.MaxInterval = maxBackoffDelay
	bo.Multiplier = backoffMultiplier
	bo.RandomizationFactor = backoffRandomisation
	bo.Reset()

	attempts := 0
	for {
		status, res, err := t.post(env, events)
		switch {
		case err != nil || status >= 500:
			attempts++
			if attempts >= maxSendAttempts {
				t.logger.Warn("batch discarded after repeated delivery failures",
					"events", len(events), "attempts", attempts, "error", err)
				return
			}
			time.Sleep(bo.NextBackOff())

		case status == http.StatusOK:
			return

		case status == http.StatusMultiStatus:
			t.logger.Warn("batch partially rejected", "accepted", res.Accepted, "rejected", res.Rejected)
			return

		case status == http.StatusTooManyRequests:
			// Rate-limit waits do not consume an attempt.
			time.Sleep(retryAfter(res))

		case status == http.StatusBadRequest:
			t.logger.Warn("batch rejected as invalid, discarding", "events", len(events))
			return

		default:
			t.logger.Warn("unexpected ingest response, discarding batch", "status", status)
			return
		}
	}
}

type postResult struct {
	body    ingestResponse
	headers http.Header
}

func (t *transport) post(env model.Envelope, events []model.IncomingEvent) (int, *postResult, error) {
	data, err := json.Marshal(ingestRequest{Envelope: env, Events: events})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, t.endpoint+"/v1/ingest", bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("User-Agent", "hiveboard-go-sdk")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	res := &postResult{headers: resp.Header}
	_ = json.NewDecoder(resp.Body).Decode(&res.body)
	return resp.StatusCode, res, nil
}

// retryAfter resolves the rate-limit wait: details.retry_after_seconds
// from the body, then the Retry-After header, then 2 s.
func retryAfter(res *postResult) time.Duration {
	if res != nil {
		if v, ok := res.body.Details["retry_after_seconds"]; ok {
			if secs, ok := v.(float64); ok && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
		if h := res.headers.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultRetryAfter
}
