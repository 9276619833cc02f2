package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

// DefaultExpoURL is Expo's push send endpoint.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// maxErrorBody bounds how much of a failed response is kept for error details.
const maxErrorBody = 64 << 10

// ExpoGateway delivers batches through the Expo push service.
type ExpoGateway struct {
	url         string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

type ExpoOption func(*ExpoGateway)

// WithAccessToken sets the bearer token required by projects with enhanced push security.
func WithAccessToken(token string) ExpoOption {
	return func(g *ExpoGateway) { g.accessToken = token }
}

// WithHTTPClient replaces the default client, whose timeout bounds each batch call.
func WithHTTPClient(c *http.Client) ExpoOption {
	return func(g *ExpoGateway) { g.httpClient = c }
}

func NewExpoGateway(url string, timeout time.Duration, logger *zap.Logger, opts ...ExpoOption) *ExpoGateway {
	if url == "" {
		url = DefaultExpoURL
	}
	g := &ExpoGateway{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// expoTicket is one push ticket of the send response.
type expoTicket struct {
	Status  string                 `json:"status"`
	ID      string                 `json:"id,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SendBatch posts messages as one JSON array and returns the number of "ok" tickets.
func (g *ExpoGateway) SendBatch(ctx context.Context, messages []domain.PushMessage) (int, error) {
	body, err := json.Marshal(messages)
	if err != nil {
		return 0, &domain.GatewayError{Err: fmt.Errorf("encode batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return 0, &domain.GatewayError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.accessToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, &domain.GatewayError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return 0, &domain.GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &domain.GatewayError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	tickets, err := parseTickets(raw)
	if err != nil {
		g.logger.Warn("unreadable expo response, counting no tickets", zap.Error(err))
		return 0, nil
	}

	accepted := 0
	for i, t := range tickets {
		if t.Status == "ok" {
			accepted++
			continue
		}
		fields := []zap.Field{zap.String("status", t.Status), zap.String("message", t.Message)}
		if i < len(messages) {
			fields = append(fields, zap.String("token", messages[i].To))
		}
		if reason, ok := t.Details["error"].(string); ok {
			fields = append(fields, zap.String("reason", reason))
		}
		g.logger.Warn("expo rejected push ticket", fields...)
	}
	return accepted, nil
}

// parseTickets accepts the documented array form of data and the single object Expo returns
// for one-message requests.
func parseTickets(raw []byte) ([]expoTicket, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var tickets []expoTicket
		if err := json.Unmarshal(data, &tickets); err != nil {
			return nil, err
		}
		return tickets, nil
	}
	var ticket expoTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, err
	}
	return []expoTicket{ticket}, nil
}
