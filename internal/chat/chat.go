// Package chat is the collaborative annotation channel layered next to the
// mesh: append-only message threads keyed per job (or global), with reactions,
// an optional external webhook mirror, and an envelope hook so chat activity
// is correlatable like any other event.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackroadhq/eventmesh/internal/auth"
	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/redact"
)

// GlobalThread is the thread id used when a message is not tied to a job.
const GlobalThread = "global"

// defaultHistoryLimit bounds hydration when the caller does not pass a limit.
const defaultHistoryLimit = 50

// Message is one entry in a thread. Threads are append-only; only the
// reaction counts mutate after posting.
type Message struct {
	ID          string         `json:"id"`
	ThreadID    string         `json:"threadId"`
	JobID       string         `json:"jobId,omitempty"`
	Author      string         `json:"author"`
	Role        auth.Role      `json:"role"`
	TS          time.Time      `json:"ts"`
	Text        string         `json:"text"`
	Reactions   map[string]int `json:"reactions"`
	Attachments []string       `json:"attachments,omitempty"`
	Redactions  []string       `json:"redactions,omitempty"`
}

// EventSink receives an envelope per posted message so chat shows up on
// correlated timelines. Satisfied by mesh.Mesh.
type EventSink interface {
	Ingest(ctx context.Context, init models.EnvelopeInit) (models.Envelope, bool, error)
}

// Service holds threads and live thread subscriptions.
type Service struct {
	logger   *slog.Logger
	redactor *redact.Redactor
	mirror   *Mirror
	sink     EventSink

	mu      sync.Mutex
	threads map[string][]Message
	subs    map[string]map[uuid.UUID]chan Message
}

// NewService builds the chat service. mirror and sink may be nil.
func NewService(logger *slog.Logger, redactor *redact.Redactor, mirror *Mirror, sink EventSink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if redactor == nil {
		redactor = redact.New()
	}
	return &Service{
		logger:   logger,
		redactor: redactor,
		mirror:   mirror,
		sink:     sink,
		threads:  make(map[string][]Message),
		subs:     make(map[string]map[uuid.UUID]chan Message),
	}
}

// Post appends a message to the thread. Sensitive key=value sequences in the
// text are masked before the message is stored, mirrored, or emitted.
func (s *Service) Post(ctx context.Context, threadID string, p auth.Principal, text string, attachments []string) (Message, error) {
	if threadID == "" {
		threadID = GlobalThread
	}

	masked, redactions := s.redactor.MaskText(text)
	msg := Message{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		Author:      p.Subject,
		Role:        p.Role,
		TS:          time.Now().UTC(),
		Text:        masked,
		Reactions:   make(map[string]int),
		Attachments: append([]string(nil), attachments...),
		Redactions:  redactions,
	}
	if threadID != GlobalThread {
		msg.JobID = threadID
	}

	s.mu.Lock()
	s.threads[threadID] = append(s.threads[threadID], msg)
	for _, ch := range s.subs[threadID] {
		select {
		case ch <- msg:
		default:
			// Slow chat consumers miss live messages; they rehydrate on
			// reconnect.
		}
	}
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.Post(msg)
	}
	s.emit(ctx, msg)

	return msg, nil
}

// React increments a reaction count on a message.
func (s *Service) React(threadID, messageID, emoji string) (Message, error) {
	if threadID == "" {
		threadID = GlobalThread
	}
	if emoji == "" {
		return Message{}, &models.ValidationError{Field: "emoji", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.threads[threadID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			if msgs[i].Reactions == nil {
				msgs[i].Reactions = make(map[string]int)
			}
			msgs[i].Reactions[emoji]++
			return cloneMessage(msgs[i]), nil
		}
	}
	return Message{}, &models.ValidationError{Field: "messageId", Reason: "unknown message " + messageID}
}

// History returns the most recent messages in the thread, oldest first.
func (s *Service) History(threadID string, limit int) []Message {
	if threadID == "" {
		threadID = GlobalThread
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.threads[threadID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}

// Subscribe attaches a live listener to the thread. The returned cancel is
// idempotent.
func (s *Service) Subscribe(threadID string) (<-chan Message, func()) {
	if threadID == "" {
		threadID = GlobalThread
	}
	id := uuid.New()
	ch := make(chan Message, 32)

	s.mu.Lock()
	if s.subs[threadID] == nil {
		s.subs[threadID] = make(map[uuid.UUID]chan Message)
	}
	s.subs[threadID][id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[threadID], id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// emit publishes the message into the mesh as a gateway log envelope. Failures
// are logged, never surfaced to the poster.
func (s *Service) emit(ctx context.Context, msg Message) {
	if s.sink == nil {
		return
	}
	init := models.EnvelopeInit{
		TS:      msg.TS,
		Source:  models.SourceGateway,
		Service: "chat",
		Kind:    models.KindLog,
		// attrs["id"] doubles as the dedupe disambiguator for log envelopes.
		Attrs: map[string]any{
			"threadId": msg.ThreadID,
			"id":       msg.ID,
			"author":   msg.Author,
		},
		Body: map[string]any{"text": msg.Text},
	}
	if msg.JobID != "" {
		init.SimID = msg.JobID
		init.Attrs["jobId"] = msg.JobID
	}
	if _, _, err := s.sink.Ingest(ctx, init); err != nil {
		s.logger.Warn("chat envelope emit failed", slog.Any("error", err))
	}
}

func cloneMessage(m Message) Message {
	out := m
	out.Reactions = make(map[string]int, len(m.Reactions))
	for k, v := range m.Reactions {
		out.Reactions[k] = v
	}
	out.Attachments = append([]string(nil), m.Attachments...)
	out.Redactions = append([]string(nil), m.Redactions...)
	return out
}
