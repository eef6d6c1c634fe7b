package client

import (
	"context"
	"net/url"

	"github.com/fasthttp/websocket"
)

// WebsocketDialer dials the relay's /v1/ws endpoint, authenticating with
// the user's JWT.
type WebsocketDialer struct {
	URL   string // e.g. ws://localhost:8080/v1/ws
	Token string
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL+"?token="+url.QueryEscape(d.Token), nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}
