package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/store"
)

// HTTPHistoryFetcher hydrates the conversation from the history route.
type HTTPHistoryFetcher struct {
	BaseURL string // e.g. http://localhost:8080
	Token   string
	Client  *http.Client
}

func (h *HTTPHistoryFetcher) Fetch(ctx context.Context, peer string, since time.Time) ([]*store.Message, error) {
	q := url.Values{}
	q.Set("peer", peer)
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/v1/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)

	httpClient := h.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("history fetch: " + resp.Status)
	}

	var body struct {
		Status string           `json:"status"`
		Data   []*store.Message `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
