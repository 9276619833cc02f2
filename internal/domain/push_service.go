package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PushBatchSize is the number of messages per gateway call.
	PushBatchSize = 100
	// PushChannelID is the Android delivery channel used for every message.
	PushChannelID = "default"
	pushSound     = "default"
)

// PushData is the payload the mobile app receives alongside the visible alert.
type PushData struct {
	ActionURL        *string          `json:"action_url"`
	NotificationID   string           `json:"notification_id"`
	NotificationType NotificationType `json:"notification_type"`
	Metadata         Map              `json:"metadata"`
}

// PushMessage is addressed to exactly one token.
type PushMessage struct {
	To        string   `json:"to"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Sound     string   `json:"sound"`
	Data      PushData `json:"data"`
	ChannelID string   `json:"channelId"`
}

// PushGateway delivers one batch per call and reports how many messages it accepted.
// A non-nil error means the batch failed; it should be a *GatewayError.
type PushGateway interface {
	SendBatch(ctx context.Context, messages []PushMessage) (int, error)
}

type PushOutcome string

const (
	PushSkipped  PushOutcome = "skipped"
	PushNoTokens PushOutcome = "no_tokens"
	PushSent     PushOutcome = "sent"
)

// PushResult is the success outcome of one fan-out invocation.
type PushResult struct {
	Outcome PushOutcome
	Reason  string
	Sent    int
	Tokens  int
	Batches int
}

// NotificationReader is the single lookup the fan-out needs from the notification store.
type NotificationReader interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
}

// PushService fans one notification out to every device of its owner. It keeps no state
// between calls.
type PushService struct {
	notifications NotificationReader
	prefs         PreferenceRepository
	tokens        PushTokenRepository
	gateway       PushGateway
	logger        *zap.Logger
}

func NewPushService(notifications NotificationReader, prefs PreferenceRepository, tokens PushTokenRepository, gateway PushGateway, logger *zap.Logger) *PushService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushService{
		notifications: notifications,
		prefs:         prefs,
		tokens:        tokens,
		gateway:       gateway,
		logger:        logger,
	}
}

// Send runs the fan-out for notificationID. Re-invoking with the same id is safe; devices may
// receive the message twice.
func (s *PushService) Send(ctx context.Context, notificationID string) (*PushResult, error) {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return nil, fmt.Errorf("notification_id required: %w", ErrBadRequest)
	}

	n, err := s.loadNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(
		zap.String("notification_id", n.ID.String()),
		zap.String("user_id", n.UserID.String()),
		zap.String("type", string(n.Type)),
	)

	flag, ok := PreferenceFlagFor(n.Type)
	if !ok {
		return nil, fmt.Errorf("notification %s has unknown type %q", n.ID, n.Type)
	}
	if state := s.preference(ctx, log, n.UserID, flag); !state.AllowsPush() {
		log.Info("push skipped by preference", zap.String("flag", string(flag)))
		return &PushResult{
			Outcome: PushSkipped,
			Reason:  fmt.Sprintf("Push disabled for %s", n.Type),
		}, nil
	}

	tokens, err := s.tokens.ListPushTokens(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("load push tokens: %w", err)
	}
	if len(tokens) == 0 {
		log.Debug("no push tokens for user")
		return &PushResult{Outcome: PushNoTokens, Reason: "No push tokens for user"}, nil
	}

	messages := BuildPushMessages(n, tokens)
	result := &PushResult{Outcome: PushSent, Tokens: len(messages)}
	for _, batch := range Batch(messages, PushBatchSize) {
		accepted, err := s.gateway.SendBatch(ctx, batch)
		if err != nil {
			log.Error("push batch failed",
				zap.Int("batch", result.Batches+1),
				zap.Int("accepted_so_far", result.Sent),
				zap.Error(err),
			)
			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				gwErr = &GatewayError{Err: err}
			}
			return nil, gwErr
		}
		result.Sent += accepted
		result.Batches++
	}

	log.Info("push fan-out complete",
		zap.Int("sent", result.Sent),
		zap.Int("tokens", result.Tokens),
		zap.Int("batches", result.Batches),
	)
	return result, nil
}

func (s *PushService) loadNotification(ctx context.Context, rawID string) (*Notification, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("notification %q: %w", rawID, ErrNotFound)
	}
	n, err := s.notifications.GetNotification(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("notification lookup failed", zap.String("notification_id", rawID), zap.Error(err))
		}
		return nil, fmt.Errorf("notification %s: %w", rawID, ErrNotFound)
	}
	return n, nil
}

// preference resolves the flag for userID. A missing record or a failed lookup reads as
// absent, which allows the push.
func (s *PushService) preference(ctx context.Context, log *zap.Logger, userID uuid.UUID, flag PreferenceFlag) FlagState {
	prefs, err := s.prefs.GetPushPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("preference lookup failed, treating as absent", zap.Error(err))
		}
		return FlagAbsent
	}
	return prefs.Flag(flag)
}

// BuildPushMessages builds one identical message per token.
func BuildPushMessages(n *Notification, tokens []string) []PushMessage {
	data := PushData{
		ActionURL:        n.ActionURL,
		NotificationID:   n.ID.String(),
		NotificationType: n.Type,
		Metadata:         n.Metadata,
	}
	messages := make([]PushMessage, 0, len(tokens))
	for _, token := range tokens {
		messages = append(messages, PushMessage{
			To:        token,
			Title:     n.Title,
			Body:      n.Message,
			Sound:     pushSound,
			Data:      data,
			ChannelID: PushChannelID,
		})
	}
	return messages
}

// Batch splits messages into consecutive chunks of at most size.
func Batch(messages []PushMessage, size int) [][]PushMessage {
	if size <= 0 {
		size = PushBatchSize
	}
	batches := make([][]PushMessage, 0, (len(messages)+size-1)/size)
	for start := 0; start < len(messages); start += size {
		end := start + size
		if end > len(messages) {
			end = len(messages)
		}
		batches = append(batches, messages[start:end])
	}
	return batches
}
