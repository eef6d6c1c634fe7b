package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/pipeline"
	"github.com/fathima-sithara/messaging-service/internal/store"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

// handleWS owns one connection's lifetime: authenticate, register, pump,
// and on any exit release the registry entry synchronously with the close.
func (s *Server) handleWS(conn *websocket.Conn) {
	userID, err := s.validator.Validate(conn.Query("token"))
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, errorFrame("", "invalid token"))
		_ = conn.Close()
		return
	}

	client := ws.NewClient(conn, userID, uuid.NewString(), s.cfg.WS.SendBufferSize)
	s.registry.Register(client)
	metrics.ActiveConnections.Inc()
	if s.presence != nil {
		if err := s.presence.AddConnection(context.Background(), userID, client.SocketID()); err != nil {
			s.log.Warnw("presence add", "user_id", userID, "err", err)
		}
	}
	s.log.Infow("connected", "user_id", userID, "socket_id", client.SocketID())

	defer func() {
		s.registry.Unregister(client)
		_ = client.Close()
		metrics.ActiveConnections.Dec()
		if s.presence != nil {
			if err := s.presence.RemoveConnection(context.Background(), userID, client.SocketID()); err != nil {
				s.log.Warnw("presence remove", "user_id", userID, "err", err)
			}
		}
		s.log.Infow("disconnected", "user_id", userID, "socket_id", client.SocketID())
	}()

	go client.WritePump(s.cfg.PingInterval, s.cfg.WriteDeadline, s.log)

	conn.SetReadLimit(s.cfg.WS.MaxMessageSizeBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
		if mt != websocket.TextMessage {
			continue
		}
		var frame ws.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.TrySend(errorFrame("", "malformed frame"))
			continue
		}
		if err := frame.ValidateInbound(userID); err != nil {
			client.TrySend(errorFrame(frame.Token, err.Error()))
			continue
		}
		s.handleSend(client, userID, &frame)
	}
}

// handleSend performs the two independent side effects of one logical send:
// relay delivery to live connections and a hand-off to the persistence
// pipeline. Neither is allowed to block or fail the other; they share only
// the idempotency token.
func (s *Server) handleSend(sender *ws.Client, userID string, frame *ws.Frame) {
	token := frame.Token
	if token == "" {
		token = uuid.NewString()
	}
	msg := &store.Message{
		ID:         store.NewMessageID(),
		Token:      token,
		SenderID:   userID,
		ReceiverID: frame.Receiver,
		Text:       frame.Text,
		CreatedAt:  time.Now().UTC(),
	}

	outcome := s.relay.Relay(msg)
	metrics.RelayOutcomes.WithLabelValues(outcome.String()).Inc()

	job := pipeline.Job{
		Msg: msg,
		Ack: func(persisted *store.Message, err error) {
			if err != nil {
				sender.TrySend(errorFrame(token, "storage unavailable"))
				return
			}
			ack, _ := json.Marshal(ws.Frame{
				Type:      ws.FrameAck,
				Token:     token,
				ID:        persisted.ID,
				Timestamp: persisted.CreatedAt,
			})
			sender.TrySend(ack)
		},
	}
	if err := s.pipe.Enqueue(job); err != nil {
		s.log.Errorw("enqueue persist", "token", token, "err", err)
		sender.TrySend(errorFrame(token, "storage unavailable"))
	}

	// Contact relation rides its own channel, never the live connection.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.updater.Ensure(ctx, msg.SenderID, msg.ReceiverID)
	}()
}

func errorFrame(token, reason string) []byte {
	b, _ := json.Marshal(ws.Frame{Type: ws.FrameError, Token: token, Reason: reason})
	return b
}
