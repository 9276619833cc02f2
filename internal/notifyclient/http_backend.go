package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

// TokenSource returns the current access token.
type TokenSource func() string

// HTTPBackend talks to the REST API and the realtime websocket. The token decides whose data
// is read; the userID arguments only scope the cache.
type HTTPBackend struct {
	baseURL    string
	token      TokenSource
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

func NewHTTPBackend(baseURL string, token TokenSource, timeout time.Duration, logger *zap.Logger) *HTTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: timeout},
		logger:     logger,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-success API response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap lets callers match the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrBadRequest
	}
	return nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := b.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (b *HTTPBackend) List(ctx context.Context, _ uuid.UUID, params domain.ListParams) ([]*domain.Notification, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Type != nil {
		q.Set("type", string(*params.Type))
	}
	if params.UnreadOnly {
		q.Set("unread_only", "true")
	}
	path := "/api/v1/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []*domain.Notification
	if err := b.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBackend) UnreadCount(ctx context.Context, _ uuid.UUID) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := b.do(ctx, http.MethodGet, "/api/v1/notifications/unread-count", nil, &out)
	return out.Count, err
}

func (b *HTTPBackend) MarkRead(ctx context.Context, _ uuid.UUID, id uuid.UUID) error {
	return b.do(ctx, http.MethodPut, "/api/v1/notifications/"+id.String()+"/read", nil, nil)
}

func (b *HTTPBackend) MarkAllRead(ctx context.Context, _ uuid.UUID) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	err := b.do(ctx, http.MethodPut, "/api/v1/notifications/read-all", nil, &out)
	return out.Updated, err
}

func (b *HTTPBackend) SoftDelete(ctx context.Context, _ uuid.UUID, id uuid.UUID) error {
	return b.do(ctx, http.MethodDelete, "/api/v1/notifications/"+id.String(), nil, nil)
}

// Subscribe opens the realtime websocket. A dropped connection is not redialed; the watcher
// rebinds to reopen it.
func (b *HTTPBackend) Subscribe(ctx context.Context, _ uuid.UUID, handle func(domain.ChangeEvent)) (Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(b.baseURL, "http") + "/api/v1/realtime"
	header := http.Header{}
	if tok := b.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := b.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "realtime handshake failed"}
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}
	go sub.read(handle, b.logger)
	return sub, nil
}

type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

type frame struct {
	Type    string             `json:"type"`
	Payload domain.ChangeEvent `json:"payload"`
}

func (s *wsSubscription) read(handle func(domain.ChangeEvent), logger *zap.Logger) {
	defer close(s.done)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("realtime read ended", zap.Error(err))
			}
			return
		}
		if f.Type == "notification_change" {
			handle(f.Payload)
		}
	}
}

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		<-s.done
	})
	return err
}
