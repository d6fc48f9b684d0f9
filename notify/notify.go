package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Alert severity colors rendered by the webhook consumer.
const (
	ColorRed    = "df3422"
	ColorOrange = "ffa500"
	ColorGreen  = "00a651"
)

// Alert is a structured title+body notification produced by the engine.
type Alert struct {
	Title string            `json:"title"`
	Text  string            `json:"text"`
	Color string            `json:"color,omitempty"`
	Facts map[string]string `json:"facts,omitempty"`
}

// Sender delivers alerts to an operations channel. Delivery is best-effort:
// a failing sender must never abort the reconciliation pass that raised the
// alert.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

// WebhookSender posts alerts to an incoming-webhook URL as connector cards.
type WebhookSender struct {
	webhookURL string
	httpClient *http.Client
}

func NewWebhookSender(webhookURL string, httpClient *http.Client) *WebhookSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookSender{webhookURL: webhookURL, httpClient: httpClient}
}

func (s *WebhookSender) Send(ctx context.Context, alert Alert) error {
	card := map[string]any{
		"@type":      "MessageCard",
		"themeColor": alert.Color,
		"title":      alert.Title,
		"text":       alert.Text,
	}
	if len(alert.Facts) > 0 {
		facts := make([]map[string]string, 0, len(alert.Facts))
		for name, value := range alert.Facts {
			facts = append(facts, map[string]string{"name": name, "value": value})
		}
		card["sections"] = []map[string]any{{"facts": facts}}
	}

	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("notify: encode card: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// KafkaSender publishes alerts to an operations topic keyed by title.
type KafkaSender struct {
	writer *kafka.Writer
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSender) Send(ctx context.Context, alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("notify: encode alert: %w", err)
	}
	message := kafka.Message{
		Key:   []byte(alert.Title),
		Value: value,
	}
	if err := s.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("notify: publish alert: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// Fanout delivers every alert to all configured senders concurrently and
// reports the first delivery failure.
type Fanout struct {
	senders []Sender
}

func NewFanout(senders ...Sender) *Fanout {
	return &Fanout{senders: senders}
}

func (f *Fanout) Send(ctx context.Context, alert Alert) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, sender := range f.senders {
		group.Go(func() error {
			return sender.Send(ctx, alert)
		})
	}
	return group.Wait()
}

// LogSender writes alerts to the structured log only, used in dry runs and
// as the fallback when no channel is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, alert Alert) error {
	s.logger.Info("alert", "title", alert.Title, "text", alert.Text)
	return nil
}
