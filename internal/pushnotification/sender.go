package pushnotification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/missionctl/mission-control/internal/config"
)

// Subscription is one browser push registration belonging to a user.
type Subscription struct {
	ID       string `json:"id"`
	UserID   int64  `json:"-"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type SubscriptionStore interface {
	Save(ctx context.Context, s *Subscription) error
	ListByUser(ctx context.Context, userID int64) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
}

type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type Sender struct {
	vapidEnv *config.VAPIDEnv
	subs     SubscriptionStore
}

func NewSender(vapidEnv *config.VAPIDEnv, subs SubscriptionStore) *Sender {
	return &Sender{
		vapidEnv: vapidEnv,
		subs:     subs,
	}
}

// Enabled reports whether VAPID keys are configured. Without them every send
// is a silent no-op, which keeps push strictly optional.
func (s *Sender) Enabled() bool {
	return s.vapidEnv.PublicKey != "" && s.vapidEnv.PrivateKey != ""
}

// SendToUser delivers the payload to every registered subscription of one
// user. Expired subscriptions are pruned as they are discovered.
func (s *Sender) SendToUser(ctx context.Context, userID int64, payload *NotificationPayload) {
	if !s.Enabled() {
		return
	}

	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		slog.Error("push notification: failed to list subscriptions", "user_id", userID, "error", err)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("push notification: failed to marshal payload", "error", err)
		return
	}

	for _, sub := range subs {
		s.sendToSubscription(ctx, sub, data)
	}
}

func (s *Sender) sendToSubscription(ctx context.Context, sub *Subscription, data []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, wpSub, &webpush.Options{
		VAPIDPublicKey:  s.vapidEnv.PublicKey,
		VAPIDPrivateKey: s.vapidEnv.PrivateKey,
		Subscriber:      s.vapidEnv.Subscriber,
		TTL:             86400,
	})
	if err != nil {
		slog.Error("push notification: failed to send", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		slog.Info("push notification: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.subs.Delete(ctx, sub.ID); err != nil {
			slog.Error("push notification: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return
	}

	if resp.StatusCode >= 400 {
		slog.Warn("push notification: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
