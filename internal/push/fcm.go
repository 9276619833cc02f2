package push

import (
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pipsignal/backend/internal/domain"
)

// fcmSender is the part of the messaging client the gateway uses.
type fcmSender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCMGateway delivers batches through Firebase Cloud Messaging.
type FCMGateway struct {
	client fcmSender
	logger *zap.Logger
}

func NewFCMGateway(ctx context.Context, logger *zap.Logger, credentialsFile string) (*FCMGateway, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided. FCM will use GOOGLE_APPLICATION_CREDENTIALS or default credentials.")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMGateway{client: msgClient, logger: logger}, nil
}

// SendBatch sends every message with SendEach. Only a call-level error fails the batch;
// per-token failures are logged and not counted.
func (g *FCMGateway) SendBatch(ctx context.Context, messages []domain.PushMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	out := make([]*messaging.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, toFCMMessage(m))
	}

	resp, err := g.client.SendEach(ctx, out)
	if err != nil {
		return 0, &domain.GatewayError{Err: err}
	}
	for i, r := range resp.Responses {
		if r.Success {
			continue
		}
		g.logger.Warn("Failed to send FCM message",
			zap.String("token", messages[i].To),
			zap.Error(r.Error),
		)
	}
	return resp.SuccessCount, nil
}

func toFCMMessage(m domain.PushMessage) *messaging.Message {
	return &messaging.Message{
		Token: m.To,
		Notification: &messaging.Notification{
			Title: m.Title,
			Body:  m.Body,
		},
		Data: fcmData(m.Data),
		Android: &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{
				ChannelID: m.ChannelID,
				Sound:     m.Sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: m.Sound},
			},
		},
	}
}

// fcmData flattens the payload into the string map FCM requires. Metadata is sent as JSON.
func fcmData(d domain.PushData) map[string]string {
	data := map[string]string{
		"notification_id":   d.NotificationID,
		"notification_type": string(d.NotificationType),
	}
	if d.ActionURL != nil {
		data["action_url"] = *d.ActionURL
	}
	if len(d.Metadata) > 0 {
		if b, err := json.Marshal(d.Metadata); err == nil {
			data["metadata"] = string(b)
		}
	}
	return data
}
