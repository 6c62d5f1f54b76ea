package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Pusher delivers a notification to a user's device
type Pusher interface {
	Notify(ctx context.Context, userID, title, body string) error
}

type apnsClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsPusher sends alerts through Apple Push Notification service
type APNsPusher struct {
	client apnsClient
	users  UserStore
	topic  string
}

// NewAPNsPusher creates a token-authenticated APNs pusher from a .p8 key
func NewAPNsPusher(users UserStore, keyPath, keyID, teamID, topic string, production bool) (*APNsPusher, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsPusher{
		client: client,
		users:  users,
		topic:  topic,
	}, nil
}

// Notify implements Pusher. Users without a device token are skipped.
func (p *APNsPusher) Notify(ctx context.Context, userID, title, body string) error {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user.PushToken == nil || *user.PushToken == "" {
		return nil
	}

	notification := &apns2.Notification{
		DeviceToken: *user.PushToken,
		Topic:       p.topic,
		Payload:     payload.NewPayload().AlertTitle(title).AlertBody(body).Sound("default"),
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}

	if res.Sent() {
		return nil
	}

	if res.Reason == apns2.ReasonBadDeviceToken || res.Reason == apns2.ReasonUnregistered {
		if err := p.users.UpdatePushToken(ctx, userID, nil); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to clear stale push token")
		}
	}

	return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
}
