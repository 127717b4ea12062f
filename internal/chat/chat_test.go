package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackroadhq/eventmesh/internal/auth"
	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/redact"
)

type sinkSpy struct {
	mu    sync.Mutex
	inits []models.EnvelopeInit
}

func (s *sinkSpy) Ingest(_ context.Context, init models.EnvelopeInit) (models.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits = append(s.inits, init)
	return models.Envelope{}, true, nil
}

func (s *sinkSpy) all() []models.EnvelopeInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EnvelopeInit(nil), s.inits...)
}

func operator() auth.Principal {
	return auth.Principal{Subject: "alex", Role: auth.RoleOperator}
}

func TestPostMasksSensitiveText(t *testing.T) {
	svc := NewService(nil, redact.New(), nil, nil)

	msg, err := svc.Post(context.Background(), "", operator(), "deploy failed, token=abc123 retry", nil)
	require.NoError(t, err)

	assert.Equal(t, GlobalThread, msg.ThreadID)
	assert.Empty(t, msg.JobID)
	assert.Contains(t, msg.Text, redact.Marker)
	assert.NotContains(t, msg.Text, "abc123")
	assert.Equal(t, []string{"token"}, msg.Redactions)
}

func TestPostEmitsCorrelatableEnvelope(t *testing.T) {
	sink := &sinkSpy{}
	svc := NewService(nil, redact.New(), nil, sink)

	msg, err := svc.Post(context.Background(), "job-42", operator(), "caption run looks slow", nil)
	require.NoError(t, err)
	assert.Equal(t, "job-42", msg.JobID)

	inits := sink.all()
	require.Len(t, inits, 1)
	assert.Equal(t, models.SourceGateway, inits[0].Source)
	assert.Equal(t, "chat", inits[0].Service)
	assert.Equal(t, models.KindLog, inits[0].Kind)
	assert.Equal(t, "job-42", inits[0].SimID)
	assert.Equal(t, msg.ID, inits[0].Attrs["id"], "message id must land in attrs[id] so dedupe can disambiguate")
}

func TestReact(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	msg, err := svc.Post(context.Background(), "job-42", operator(), "nice", nil)
	require.NoError(t, err)

	updated, err := svc.React("job-42", msg.ID, "🔥")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Reactions["🔥"])

	updated, err = svc.React("job-42", msg.ID, "🔥")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Reactions["🔥"])

	_, err = svc.React("job-42", "missing", "🔥")
	assert.Error(t, err)

	_, err = svc.React("job-42", msg.ID, "")
	assert.Error(t, err)
}

func TestHistoryLimitAndOrder(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.Post(ctx, "job-42", operator(), text, nil)
		require.NoError(t, err)
	}

	history := svc.History("job-42", 2)
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].Text)
	assert.Equal(t, "three", history[1].Text)

	assert.Empty(t, svc.History("other-thread", 0))
}

func TestHistoryReturnsCopies(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	msg, err := svc.Post(context.Background(), "job-42", operator(), "hello", nil)
	require.NoError(t, err)

	history := svc.History("job-42", 0)
	history[0].Reactions["💯"] = 9

	_, err = svc.React("job-42", msg.ID, "💯")
	require.NoError(t, err)
	fresh := svc.History("job-42", 0)
	assert.Equal(t, 1, fresh[0].Reactions["💯"])
}

func TestSubscribeReceivesLiveMessages(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)

	ch, cancel := svc.Subscribe("job-42")
	defer cancel()

	_, err := svc.Post(context.Background(), "job-42", operator(), "live", nil)
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "live", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message")
	}

	// Messages in other threads are not delivered here.
	_, err = svc.Post(context.Background(), "other", operator(), "elsewhere", nil)
	require.NoError(t, err)
	select {
	case msg := <-ch:
		t.Fatalf("unexpected cross-thread delivery: %q", msg.Text)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	cancel() // idempotent
	_, ok := <-ch
	assert.False(t, ok)
}
