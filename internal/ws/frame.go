package ws

import (
	"errors"
	"time"
)

// Frame kinds carried over the live connection.
const (
	FrameMessage = "message"
	FrameAck     = "ack"
	FrameError   = "error"
)

// Frame is the JSON envelope exchanged over a connection. Clients send
// message frames {text, sender, receiver, timestamp} with an idempotency
// token; the server emits message frames to peers carrying the durable id
// (never the sender's token), and ack/error frames back to the sender
// carrying the token and, on ack, the durable id.
type Frame struct {
	Type      string    `json:"type,omitempty"`
	Token     string    `json:"token,omitempty"`
	ID        string    `json:"id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Receiver  string    `json:"receiver,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

var (
	errEmptyText    = errors.New("empty text")
	errNoReceiver   = errors.New("missing receiver")
	errSenderForged = errors.New("sender does not match connection")
)

// ValidateInbound checks a client message frame against the authenticated
// user of the connection it arrived on. The sender field is advisory only;
// a frame claiming another sender is rejected.
func (f *Frame) ValidateInbound(userID string) error {
	if f.Type != "" && f.Type != FrameMessage {
		return errors.New("unexpected frame type: " + f.Type)
	}
	if f.Text == "" {
		return errEmptyText
	}
	if f.Receiver == "" {
		return errNoReceiver
	}
	if f.Sender != "" && f.Sender != userID {
		return errSenderForged
	}
	return nil
}
