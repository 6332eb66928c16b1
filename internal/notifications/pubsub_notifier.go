package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/bazaar-market/ledger/internal/services"
)

// Message is the JSON payload published for the mail relay.
type Message struct {
	services.Notice
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// PubSubNotifier publishes rendered notices to a Pub/Sub topic.
type PubSubNotifier struct {
	topic    *pubsub.Topic
	renderer *Renderer
	marshal  func(any) ([]byte, error)
}

var _ services.Notifier = (*PubSubNotifier)(nil)

// NewPubSubNotifier constructs a Pub/Sub backed notifier.
func NewPubSubNotifier(topic *pubsub.Topic, renderer *Renderer) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	if renderer == nil {
		renderer = NewRenderer("", "")
	}
	return &PubSubNotifier{
		topic:    topic,
		renderer: renderer,
		marshal:  json.Marshal,
	}, nil
}

// Notify renders the notice and waits for the broker to acknowledge it.
func (p *PubSubNotifier) Notify(ctx context.Context, notice services.Notice) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}
	if strings.TrimSpace(notice.RecipientEmail) == "" {
		return fmt.Errorf("pubsub notifier: order %s has no recipient email", notice.OrderID)
	}

	rendered, err := p.renderer.Render(notice)
	if err != nil {
		return err
	}
	data, err := p.marshal(Message{Notice: notice, Subject: rendered.Subject, Body: rendered.Body})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", string(notice.Kind))
	setAttr(attrs, "orderId", notice.OrderID)
	setAttr(attrs, "orderNumber", notice.OrderNumber)
	setAttr(attrs, "recipient", notice.RecipientEmail)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s notice: %w", notice.Kind, err)
	}
	return nil
}

// LogNotifier writes rendered notices to the log. It is used when no topic is configured.
type LogNotifier struct {
	logger   *zap.Logger
	renderer *Renderer
}

var _ services.Notifier = (*LogNotifier)(nil)

// NewLogNotifier constructs a notifier that only logs.
func NewLogNotifier(logger *zap.Logger, renderer *Renderer) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = NewRenderer("", "")
	}
	return &LogNotifier{logger: logger, renderer: renderer}
}

func (l *LogNotifier) Notify(_ context.Context, notice services.Notice) error {
	rendered, err := l.renderer.Render(notice)
	if err != nil {
		return err
	}
	l.logger.Info("notice",
		zap.String("kind", string(notice.Kind)),
		zap.String("orderId", notice.OrderID),
		zap.String("recipient", notice.RecipientEmail),
		zap.String("subject", rendered.Subject),
	)
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
