package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/registry"
	"github.com/fathima-sithara/messaging-service/internal/store"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

type fakeConn struct {
	user string

	mu      sync.Mutex
	frames  [][]byte
	stalled bool
	closed  bool
}

func (c *fakeConn) User() string { return c.user }

func (c *fakeConn) TrySend(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stalled || c.closed {
		return false
	}
	c.frames = append(c.frames, b)
	return true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received(t *testing.T) []ws.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ws.Frame, 0, len(c.frames))
	for _, b := range c.frames {
		var f ws.Frame
		require.NoError(t, json.Unmarshal(b, &f))
		out = append(out, f)
	}
	return out
}

func msg(sender, receiver, text string) *store.Message {
	return &store.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
}

func Test_Offline_Receiver(t *testing.T) {
	req := require.New(t)
	r := New(registry.New(), zap.NewNop().Sugar())

	m := msg("alice", "bob", "hi")
	req.Equal(ReceiverOffline, r.Relay(m))
	req.EqualValues(1, m.Seq)
}

func Test_Delivery_FanOut_To_All_Connections(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	r := New(reg, zap.NewNop().Sugar())

	tab1 := &fakeConn{user: "bob"}
	tab2 := &fakeConn{user: "bob"}
	reg.Register(tab1)
	reg.Register(tab2)

	req.Equal(Delivered, r.Relay(msg("alice", "bob", "hi")))
	req.Len(tab1.received(t), 1)
	req.Len(tab2.received(t), 1)
	req.Equal("hi", tab1.received(t)[0].Text)
	req.Equal("alice", tab1.received(t)[0].Sender)
}

func Test_FIFO_Per_Pair(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	r := New(reg, zap.NewNop().Sugar())

	bob := &fakeConn{user: "bob"}
	reg.Register(bob)

	texts := []string{"one", "two", "three", "four"}
	for _, txt := range texts {
		m := msg("alice", "bob", txt)
		req.Equal(Delivered, r.Relay(m))
	}

	got := bob.received(t)
	req.Len(got, len(texts))
	for i, f := range got {
		req.Equal(texts[i], f.Text)
	}
}

func Test_Sequence_Is_Per_Pair(t *testing.T) {
	req := require.New(t)
	r := New(registry.New(), zap.NewNop().Sugar())

	ab1 := msg("alice", "bob", "1")
	ab2 := msg("alice", "bob", "2")
	ba1 := msg("bob", "alice", "1")
	r.Relay(ab1)
	r.Relay(ab2)
	r.Relay(ba1)

	req.EqualValues(1, ab1.Seq)
	req.EqualValues(2, ab2.Seq)
	req.EqualValues(1, ba1.Seq) // reverse direction is its own pair
}

func Test_Stalled_Connection_Is_Closed_And_Unregistered(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	r := New(reg, zap.NewNop().Sugar())

	stuck := &fakeConn{user: "bob", stalled: true}
	reg.Register(stuck)

	req.Equal(ReceiverOffline, r.Relay(msg("alice", "bob", "hi")))
	req.True(stuck.closed)
	req.Empty(reg.Lookup("bob"))
}

func Test_Delivered_Frame_Carries_ID_Not_Token(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	r := New(reg, zap.NewNop().Sugar())

	bob := &fakeConn{user: "bob"}
	reg.Register(bob)

	m := msg("alice", "bob", "hi")
	m.ID = store.NewMessageID()
	m.Token = "alices-retry-credential"
	req.Equal(Delivered, r.Relay(m))

	got := bob.received(t)
	req.Len(got, 1)
	req.Equal(m.ID, got[0].ID)
	req.Empty(got[0].Token, "the sender's idempotency token must not reach the receiver")
}

func Test_Idle_Pair_Counters_Are_Evicted(t *testing.T) {
	req := require.New(t)
	r := New(registry.New(), zap.NewNop().Sugar())

	r.nextSeq("alice", "bob")
	r.nextSeq("carol", "dave")

	r.seqMu.Lock()
	r.seqs["alice\x00bob"].lastUsed = time.Now().Add(-2 * seqIdleTTL)
	r.lastSweep = time.Now().Add(-2 * seqSweepEvery)
	r.seqMu.Unlock()

	// an active pair keeps its counter and its monotonic sequence
	req.EqualValues(2, r.nextSeq("carol", "dave"))

	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	req.NotContains(r.seqs, "alice\x00bob")
	req.Contains(r.seqs, "carol\x00dave")
}

func Test_Stalled_Connection_Does_Not_Block_Healthy_One(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	r := New(reg, zap.NewNop().Sugar())

	stuck := &fakeConn{user: "bob", stalled: true}
	healthy := &fakeConn{user: "bob"}
	reg.Register(stuck)
	reg.Register(healthy)

	req.Equal(Delivered, r.Relay(msg("alice", "bob", "hi")))
	req.Len(healthy.received(t), 1)
	req.True(stuck.closed)
	req.Len(reg.Lookup("bob"), 1)
}
