package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/registry"
	"github.com/fathima-sithara/messaging-service/internal/store"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

// Outcome of a relay attempt. ReceiverOffline is not a failure: durability
// for offline receivers belongs to the persistence pipeline, and the client
// picks missed messages up on its next history load.
type Outcome int

const (
	Delivered Outcome = iota
	ReceiverOffline
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "receiver_offline"
}

// Counters for pairs idle longer than this are evicted. A revived pair
// restarts at 1, which is safe: the sequence only breaks created_at ties,
// and equal timestamps cannot span the idle window.
const (
	seqIdleTTL    = 30 * time.Minute
	seqSweepEvery = time.Minute
)

type pairSeq struct {
	ctr      atomic.Uint64
	lastUsed time.Time
}

// Relay forwards a message to the receiver's live connections. It is
// stateless beyond registry lookups and the per-pair sequence counters.
type Relay struct {
	reg *registry.Registry
	log *zap.SugaredLogger

	seqMu     sync.Mutex
	seqs      map[string]*pairSeq
	lastSweep time.Time
}

func New(reg *registry.Registry, log *zap.SugaredLogger) *Relay {
	return &Relay{reg: reg, log: log, seqs: make(map[string]*pairSeq)}
}

// nextSeq assigns the stable per-pair sequence number. It is assigned here,
// at the relay, so pipeline workers racing each other cannot reorder a
// pair's messages in storage. Idle counters are swept so the map does not
// grow with every pair ever seen.
func (r *Relay) nextSeq(sender, receiver string) uint64 {
	key := sender + "\x00" + receiver
	now := time.Now()
	r.seqMu.Lock()
	ps, ok := r.seqs[key]
	if !ok {
		ps = &pairSeq{}
		r.seqs[key] = ps
	}
	ps.lastUsed = now
	if now.Sub(r.lastSweep) >= seqSweepEvery {
		r.lastSweep = now
		for k, p := range r.seqs {
			if p != ps && now.Sub(p.lastUsed) > seqIdleTTL {
				delete(r.seqs, k)
			}
		}
	}
	r.seqMu.Unlock()
	return ps.ctr.Add(1)
}

// Relay stamps the message with its pair sequence and fans it out to every
// live connection of the receiver. A connection that cannot accept the frame
// without blocking is treated as unreachable: it is closed and unregistered
// so a stalled peer never stalls the sender's send path.
func (r *Relay) Relay(m *store.Message) Outcome {
	m.Seq = r.nextSeq(m.SenderID, m.ReceiverID)

	conns := r.reg.Lookup(m.ReceiverID)
	if len(conns) == 0 {
		return ReceiverOffline
	}

	// The sender's idempotency token stays off peer-bound frames: it is the
	// sender's retry credential, not conversation data. Peers identify the
	// message by its durable id, assigned before relay.
	frame, err := json.Marshal(ws.Frame{
		Type:      ws.FrameMessage,
		ID:        m.ID,
		Text:      m.Text,
		Sender:    m.SenderID,
		Receiver:  m.ReceiverID,
		Timestamp: m.CreatedAt,
	})
	if err != nil {
		r.log.Errorw("marshal frame", "err", err)
		return ReceiverOffline
	}

	delivered := false
	for _, c := range conns {
		if c.TrySend(frame) {
			delivered = true
			continue
		}
		r.log.Warnw("receiver connection stalled, closing",
			"sender_id", m.SenderID, "receiver_id", m.ReceiverID)
		r.reg.Unregister(c)
		_ = c.Close()
	}
	if !delivered {
		return ReceiverOffline
	}
	return Delivered
}
