package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messaging-service/internal/ws"
)

// wsConn is a minimal ws.Conn for driving handleSend without a network.
type wsConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (c *wsConn) ReadMessage() (int, []byte, error) { return 0, nil, errors.New("not used") }

func (c *wsConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *wsConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *wsConn) SetReadLimit(int64)                        {}
func (c *wsConn) SetReadDeadline(time.Time) error           { return nil }
func (c *wsConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *wsConn) SetPongHandler(func(string) error)         {}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func Test_Send_To_Offline_Receiver_Still_Persists(t *testing.T) {
	req := require.New(t)
	srv, mem := newTestServer(t)

	sender := ws.NewClient(&wsConn{}, "alice", "sock-a", 16)
	srv.registry.Register(sender)
	defer srv.registry.Unregister(sender)

	// nobody registered for bob: relay reports offline, persistence runs anyway
	srv.handleSend(sender, "alice", &ws.Frame{Token: "tok-1", Text: "hi", Receiver: "bob"})

	req.Eventually(func() bool {
		hist, err := mem.FetchHistory(context.Background(), "alice", "bob", time.Time{})
		return err == nil && len(hist) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hist, err := mem.FetchHistory(context.Background(), "alice", "bob", time.Time{})
	req.NoError(err)
	req.Equal("hi", hist[0].Text)

	// the first message also creates the contact relation
	req.Eventually(func() bool {
		return mem.ContactCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_Ambiguous_Retry_Same_Token_Persists_Once(t *testing.T) {
	req := require.New(t)
	srv, mem := newTestServer(t)

	sender := ws.NewClient(&wsConn{}, "alice", "sock-a", 16)
	srv.registry.Register(sender)
	defer srv.registry.Unregister(sender)

	frame := &ws.Frame{Token: "tok-retry", Text: "hi", Receiver: "bob"}
	srv.handleSend(sender, "alice", frame)
	srv.handleSend(sender, "alice", frame) // client retried after an ambiguous failure

	req.Eventually(func() bool {
		hist, err := mem.FetchHistory(context.Background(), "alice", "bob", time.Time{})
		return err == nil && len(hist) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // give a wrongly duplicated insert time to land
	hist, err := mem.FetchHistory(context.Background(), "alice", "bob", time.Time{})
	req.NoError(err)
	req.Len(hist, 1)
	req.Equal("tok-retry", hist[0].Token)
}

func Test_Reused_Token_From_Another_Sender_Still_Persists(t *testing.T) {
	req := require.New(t)
	srv, mem := newTestServer(t)

	alice := ws.NewClient(&wsConn{}, "alice", "sock-a", 16)
	bob := ws.NewClient(&wsConn{}, "bob", "sock-b", 16)
	srv.registry.Register(alice)
	srv.registry.Register(bob)
	defer srv.registry.Unregister(alice)
	defer srv.registry.Unregister(bob)

	srv.handleSend(alice, "alice", &ws.Frame{Token: "tok-leak", Text: "hi", Receiver: "bob"})
	// bob attaches alice's token to his own send; it must not be swallowed
	// as a duplicate of hers
	srv.handleSend(bob, "bob", &ws.Frame{Token: "tok-leak", Text: "my own message", Receiver: "carol"})

	req.Eventually(func() bool {
		hist, err := mem.FetchHistory(context.Background(), "bob", "carol", time.Time{})
		return err == nil && len(hist) == 1
	}, 2*time.Second, 10*time.Millisecond)
	hist, err := mem.FetchHistory(context.Background(), "bob", "carol", time.Time{})
	req.NoError(err)
	req.Equal("my own message", hist[0].Text)
}

func Test_Send_Delivers_And_Acks(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	senderSock := &wsConn{}
	sender := ws.NewClient(senderSock, "alice", "sock-a", 16)
	receiverSock := &wsConn{}
	receiver := ws.NewClient(receiverSock, "bob", "sock-b", 16)
	srv.registry.Register(sender)
	srv.registry.Register(receiver)
	defer srv.registry.Unregister(sender)
	defer srv.registry.Unregister(receiver)

	go sender.WritePump(time.Minute, time.Second, srv.log)
	go receiver.WritePump(time.Minute, time.Second, srv.log)
	defer sender.Close()
	defer receiver.Close()

	srv.handleSend(sender, "alice", &ws.Frame{Token: "tok-d", Text: "hi bob", Receiver: "bob"})

	// receiver sees the message frame
	req.Eventually(func() bool {
		receiverSock.mu.Lock()
		defer receiverSock.mu.Unlock()
		return len(receiverSock.writes) == 1
	}, 2*time.Second, 10*time.Millisecond)
	var delivered ws.Frame
	receiverSock.mu.Lock()
	req.NoError(json.Unmarshal(receiverSock.writes[0], &delivered))
	receiverSock.mu.Unlock()
	req.Equal(ws.FrameMessage, delivered.Type)
	req.Equal("hi bob", delivered.Text)
	req.Equal("alice", delivered.Sender)
	req.Empty(delivered.Token)
	req.NotEmpty(delivered.ID)

	// sender gets the ack with the durable id
	req.Eventually(func() bool {
		senderSock.mu.Lock()
		defer senderSock.mu.Unlock()
		return len(senderSock.writes) == 1
	}, 2*time.Second, 10*time.Millisecond)
	var ack ws.Frame
	senderSock.mu.Lock()
	req.NoError(json.Unmarshal(senderSock.writes[0], &ack))
	senderSock.mu.Unlock()
	req.Equal(ws.FrameAck, ack.Type)
	req.Equal("tok-d", ack.Token)
	req.Equal(delivered.ID, ack.ID)
}
