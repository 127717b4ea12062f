// Package dedupe provides time-windowed idempotency tracking for envelopes
// that may be re-delivered.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/blackroadhq/eventmesh/internal/models"
)

// DefaultTTL is the dedupe window applied when none is configured.
const DefaultTTL = 5 * time.Minute

// Tracker records derived envelope keys and rejects repeats seen within the
// TTL. The window slides: a duplicate arriving just before expiry still drops,
// while the next occurrence after expiry is treated as new. There is no size
// cap beyond TTL-based pruning; unbounded key cardinality inside one window is
// an accepted operational risk.
type Tracker struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewTracker creates a tracker with the given TTL (DefaultTTL when ttl <= 0).
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// SetClock overrides the tracker's time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Register reports whether the envelope is new within the current window.
// Expired entries are pruned lazily on every call before the lookup.
func (t *Tracker) Register(e models.Envelope) bool {
	key := DeriveKey(e)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, seenAt := range t.seen {
		if now.Sub(seenAt) >= t.ttl {
			delete(t.seen, k)
		}
	}

	if _, dup := t.seen[key]; dup {
		return false
	}
	t.seen[key] = now
	return true
}

// Len reports the current number of tracked keys, including not-yet-pruned
// expired entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// DeriveKey hashes the identity fields of an envelope into a dedupe key. The
// disambiguator prefers traceId, then spanId, then an attribute-level id.
func DeriveKey(e models.Envelope) string {
	disambiguator := e.TraceID
	if disambiguator == "" {
		disambiguator = e.SpanID
	}
	if disambiguator == "" {
		if id, ok := e.Attrs.Text("id"); ok {
			disambiguator = id
		}
	}

	h := sha256.New()
	h.Write([]byte(string(e.Source)))
	h.Write([]byte{0})
	h.Write([]byte(e.Service))
	h.Write([]byte{0})
	h.Write([]byte(string(e.Kind)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(e.TS.UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(disambiguator))
	return hex.EncodeToString(h.Sum(nil))
}
