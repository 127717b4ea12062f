package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackroadhq/eventmesh/internal/auth"
	"github.com/blackroadhq/eventmesh/internal/bus"
	"github.com/blackroadhq/eventmesh/internal/chat"
	"github.com/blackroadhq/eventmesh/internal/dedupe"
	"github.com/blackroadhq/eventmesh/internal/engine"
	"github.com/blackroadhq/eventmesh/internal/mesh"
	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/redact"
	"github.com/blackroadhq/eventmesh/internal/store"
)

// storeSpy counts queries so tests can assert authorization short-circuits
// before any store access.
type storeSpy struct {
	mu      sync.Mutex
	inner   *store.MemoryStore
	queries int
}

func (s *storeSpy) Append(e models.Envelope) error {
	return s.inner.Append(e)
}

func (s *storeSpy) FindByKey(key string, keyType models.KeyType) ([]models.Envelope, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	return s.inner.FindByKey(key, keyType)
}

func (s *storeSpy) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

type fixture struct {
	server   *Server
	verifier *auth.TokenVerifier
	spy      *storeSpy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	verifier, err := auth.NewTokenVerifier("test-secret")
	require.NoError(t, err)

	spy := &storeSpy{inner: store.NewMemoryStore()}
	eng := engine.New(nil, spy, engine.DefaultRules(), engine.Options{})
	b := bus.New(bus.Options{Tracker: dedupe.NewTracker(5 * time.Minute)})
	redactor := redact.New()
	m := mesh.New(nil, redactor, b, eng)
	t.Cleanup(m.Close)
	chatSvc := chat.NewService(nil, redactor, nil, m)

	server := New(nil, m, chatSvc, verifier, Options{IngestRate: 1000, IngestBurst: 1000})
	return &fixture{server: server, verifier: verifier, spy: spy}
}

func (f *fixture) token(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := f.verifier.Issue("tester", role, time.Minute)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func eventPayload(traceID string) map[string]any {
	return map[string]any{
		"ts":      "2025-06-01T12:00:00Z",
		"source":  "otel",
		"service": "api",
		"kind":    "span",
		"traceId": traceID,
		"attrs":   map[string]any{"operation": "GET /v1/items", "authToken": "abc"},
	}
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingTokenRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/correlate?key=x&keyType=traceId", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGarbageTokenRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/correlate?key=x&keyType=traceId", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestAcceptsAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleOperator)

	rec := f.do(t, http.MethodPost, "/api/v1/events", token, eventPayload("t-1"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	if got, _ := resp.Event.Attrs.Text("authToken"); got != redact.Marker {
		t.Fatalf("response envelope not redacted: %q", got)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/events", token, eventPayload("t-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
}

func TestIngestRequiresWriteScope(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/events", f.token(t, auth.RoleViewer), eventPayload("t-1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleOperator)

	payload := eventPayload("t-1")
	payload["source"] = "syslog"
	rec := f.do(t, http.MethodPost, "/api/v1/events", token, payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRateLimited(t *testing.T) {
	verifier, err := auth.NewTokenVerifier("test-secret")
	require.NoError(t, err)
	eng := engine.New(nil, store.NewMemoryStore(), nil, engine.Options{})
	b := bus.New(bus.Options{})
	m := mesh.New(nil, redact.New(), b, eng)
	t.Cleanup(m.Close)
	server := New(nil, m, chat.NewService(nil, nil, nil, nil), verifier, Options{IngestRate: 1, IngestBurst: 1})
	f := &fixture{server: server, verifier: verifier}

	token := f.token(t, auth.RoleOperator)
	first := f.do(t, http.MethodPost, "/api/v1/events", token, eventPayload("t-1"))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := f.do(t, http.MethodPost, "/api/v1/events", token, eventPayload("t-2"))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestCorrelateForbiddenForViewerBeforeStoreAccess(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/correlate?key=rel-9&keyType=releaseId", f.token(t, auth.RoleViewer), nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, f.spy.queryCount(), "forbidden request must not touch the store")
}

func TestCorrelateReturnsTimelineAndNotes(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleOperator)

	deploy := map[string]any{
		"ts": "2025-06-01T12:00:00Z", "source": "audit", "service": "controlplane", "kind": "audit",
		"releaseId": "rel-9",
		"attrs":     map[string]any{"action": "deploy.create", "id": "audit-1"},
	}
	incident := map[string]any{
		"ts": "2025-06-01T12:03:00Z", "source": "gateway", "service": "gateway", "kind": "log",
		"releaseId": "rel-9",
		"attrs":     map[string]any{"route": "POST /api/v1/incidents", "id": "req-1"},
	}
	for _, payload := range []map[string]any{deploy, incident} {
		rec := f.do(t, http.MethodPost, "/api/v1/events", token, payload)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/correlate?key=rel-9&keyType=releaseId", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.CorrelatedTimeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "rel-9", result.Key)
	require.Len(t, result.Timeline, 2)
	assert.Contains(t, result.Notes, "Release rel-9 aligns with an incident window; review error rates.")
}

// failingStore simulates a broken file backend.
type failingStore struct{}

func (failingStore) Append(models.Envelope) error { return nil }

func (failingStore) FindByKey(string, models.KeyType) ([]models.Envelope, error) {
	return nil, &store.IOError{Op: "read", Path: "events.json", Err: errors.New("input/output error")}
}

func TestCorrelateMapsStoreFailure(t *testing.T) {
	verifier, err := auth.NewTokenVerifier("test-secret")
	require.NoError(t, err)
	eng := engine.New(nil, failingStore{}, nil, engine.Options{})
	b := bus.New(bus.Options{})
	m := mesh.New(nil, redact.New(), b, eng)
	t.Cleanup(m.Close)
	server := New(nil, m, chat.NewService(nil, nil, nil, nil), verifier, Options{})
	f := &fixture{server: server, verifier: verifier}

	rec := f.do(t, http.MethodGet, "/api/v1/correlate?key=rel-9&keyType=releaseId", f.token(t, auth.RoleOperator), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "event store unavailable")
}

func TestCorrelateEmptyTimelineSerializesAsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/correlate?key=rel-none&keyType=releaseId", f.token(t, auth.RoleOperator), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "[]", string(raw["timeline"]))
	assert.Equal(t, "[]", string(raw["notes"]))
}

func TestCorrelateRejectsUnknownKeyType(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/correlate?key=x&keyType=sessionId", f.token(t, auth.RoleOperator), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatPostAndHistory(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleViewer)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/job-42/messages", token, map[string]any{
		"text": "deploy failed, token=abc123 retry",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg chat.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.NotContains(t, msg.Text, "abc123")
	assert.Equal(t, "job-42", msg.JobID)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/chat/job-42/messages/%s/reactions", msg.ID), token, map[string]any{"emoji": "🔥"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/job-42/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, 1, history.Messages[0].Reactions["🔥"])
}

func TestChatReactUnknownMessage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/chat/job-42/messages/missing/reactions", f.token(t, auth.RoleViewer), map[string]any{"emoji": "🔥"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatStreamDeliversEachMessageOnce(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	token := f.token(t, auth.RoleViewer)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/job-7/messages", token, map[string]any{"text": "before connect"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/chat/job-7/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msgs := make(chan chat.Message, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				var msg chat.Message
				if json.Unmarshal([]byte(data), &msg) == nil {
					msgs <- msg
				}
			}
		}
		close(msgs)
	}()

	readMsg := func(context string) chat.Message {
		select {
		case msg := <-msgs:
			return msg
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", context)
			return chat.Message{}
		}
	}

	hydrated := readMsg("hydrated message")
	assert.Equal(t, "before connect", hydrated.Text)

	// The subscription is attached once hydration frames arrive, so this post
	// is guaranteed to reach the live channel.
	rec = f.do(t, http.MethodPost, "/api/v1/chat/job-7/messages", token, map[string]any{"text": "after connect"})
	require.Equal(t, http.StatusCreated, rec.Code)

	live := readMsg("live message")
	assert.Equal(t, "after connect", live.Text)
	assert.NotEqual(t, hydrated.ID, live.ID)

	select {
	case extra, ok := <-msgs:
		if ok {
			t.Fatalf("duplicate delivery: %q", extra.Text)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStreamDeliversMatchingEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	operatorToken := f.token(t, auth.RoleOperator)
	viewerToken := f.token(t, auth.RoleViewer)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/events/stream?sources=otel", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+viewerToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				lines <- data
			}
		}
		close(lines)
	}()

	// The subscription attaches asynchronously; keep publishing fresh events
	// until one comes back.
	deadline := time.After(5 * time.Second)
	seq := 0
	for {
		seq++
		payload := eventPayload(fmt.Sprintf("t-%d", seq))
		rec := f.do(t, http.MethodPost, "/api/v1/events", operatorToken, payload)
		require.Equal(t, http.StatusAccepted, rec.Code)

		select {
		case data := <-lines:
			var env models.Envelope
			require.NoError(t, json.Unmarshal([]byte(data), &env))
			assert.Equal(t, models.SourceOTel, env.Source)
			return
		case <-deadline:
			t.Fatal("no event received on stream")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStreamRejectsBadFilter(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/events/stream?sources=syslog", f.token(t, auth.RoleViewer), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterFromQuery(t *testing.T) {
	q := map[string][]string{
		"sources":    {"otel,media"},
		"services":   {"api"},
		"kinds":      {"span"},
		"severities": {"error"},
		"traceId":    {"t-1"},
		"since":      {"2025-06-01T12:00:00Z"},
	}
	f, err := filterFromQuery(q)
	require.NoError(t, err)
	assert.Equal(t, []models.Source{models.SourceOTel, models.SourceMedia}, f.Sources)
	assert.Equal(t, []string{"api"}, f.Services)
	assert.Equal(t, []models.EventKind{models.KindSpan}, f.Kinds)
	assert.Equal(t, []models.Severity{models.SeverityError}, f.Severities)
	assert.Equal(t, "t-1", f.TraceID)
	assert.False(t, f.Since.IsZero())

	_, err = filterFromQuery(map[string][]string{"since": {"yesterday"}})
	assert.Error(t, err)
}
