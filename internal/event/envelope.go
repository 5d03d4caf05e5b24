package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for keeper actions
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeConfirmation
	EventTypeProcessingStarted
	EventTypeProcessingDone
	EventTypeYank
	EventTypeCage
	EventTypeSkip
	EventTypeSnip
	EventTypeSkim
	EventTypeKiss
	EventTypeHeal
	EventTypeThaw
	EventTypeFlow
	EventTypeDeny
	EventTypeBurn
	EventTypeComplete
)

func (et EventType) String() string {
	switch et {
	case EventTypeConfirmation:
		return "confirmation"
	case EventTypeProcessingStarted:
		return "processing_started"
	case EventTypeProcessingDone:
		return "processing_done"
	case EventTypeYank:
		return "yank"
	case EventTypeCage:
		return "cage"
	case EventTypeSkip:
		return "skip"
	case EventTypeSnip:
		return "snip"
	case EventTypeSkim:
		return "skim"
	case EventTypeKiss:
		return "kiss"
	case EventTypeHeal:
		return "heal"
	case EventTypeThaw:
		return "thaw"
	case EventTypeFlow:
		return "flow"
	case EventTypeDeny:
		return "deny"
	case EventTypeBurn:
		return "burn"
	case EventTypeComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ParseEventType is the inverse of String. Unrecognized kinds are
// EventTypeUnknown.
func ParseEventType(kind string) EventType {
	for t := EventTypeConfirmation; t <= EventTypeComplete; t++ {
		if t.String() == kind {
			return t
		}
	}
	return EventTypeUnknown
}

// Envelope is one entry of the keeper's audit trail. It records what the
// keeper did, never what it is going to do.
type Envelope struct {
	// Monotonic per-process sequence
	Sequence int64 `json:"sequence"`

	ID      uuid.UUID `json:"id"`
	Episode uuid.UUID `json:"episode"`

	EventType EventType `json:"-"`
	Kind      string    `json:"kind"`

	// Action context; empty when not applicable
	Ilk       string `json:"ilk,omitempty"`
	AuctionID uint64 `json:"auction_id,omitempty"`
	Urn       string `json:"urn,omitempty"`
	Target    string `json:"target,omitempty"` // Contract acted upon, when not implied by the kind
	Amount    string `json:"amount,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`

	// Chain head the action was taken on
	Block uint64 `json:"block"`

	// Non-empty when the action failed
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Subject is the audit stream subject of the envelope.
func (e Envelope) Subject() string {
	return "cage.keeper." + e.Kind
}

// Recorder accepts audit envelopes. Implementations must not block the caller.
type Recorder interface {
	Record(Envelope)
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Envelope) {}

// Builder stamps envelopes with the episode, sequence and time.
type Builder struct {
	episode  uuid.UUID
	sequence atomic.Int64
	recorder Recorder
	now      func() time.Time
}

// NewBuilder creates a Builder that forwards every envelope to r.
func NewBuilder(episode uuid.UUID, r Recorder) *Builder {
	if r == nil {
		r = Discard
	}
	return &Builder{
		episode:  episode,
		recorder: r,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Episode returns the episode identifier stamped on every envelope.
func (b *Builder) Episode() uuid.UUID {
	return b.episode
}

// Emit fills in the bookkeeping fields of e and records it.
func (b *Builder) Emit(t EventType, block uint64, e Envelope) Envelope {
	e.Sequence = b.sequence.Add(1)
	e.ID = uuid.New()
	e.Episode = b.episode
	e.EventType = t
	e.Kind = t.String()
	e.Block = block
	e.Timestamp = b.now()
	b.recorder.Record(e)
	return e
}

// Memory is an in-process Recorder that keeps everything. Used by tests and
// by the status surface when no broker is configured.
type Memory struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (m *Memory) Record(e Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = append(m.envelopes, e)
}

// Envelopes returns a copy of everything recorded so far.
func (m *Memory) Envelopes() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.envelopes))
	copy(out, m.envelopes)
	return out
}

// Kinds returns the kinds of everything recorded so far, in order.
func (m *Memory) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.envelopes))
	for _, e := range m.envelopes {
		out = append(out, e.Kind)
	}
	return out
}

// Fanout records to every recorder in order.
type Fanout []Recorder

func (f Fanout) Record(e Envelope) {
	for _, r := range f {
		r.Record(e)
	}
}
