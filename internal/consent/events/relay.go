package events

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mssola/useragent"
	"golang.org/x/crypto/blake2b"

	"consentkit/internal/consent/models"
	"consentkit/internal/platform/kafka"
	"consentkit/pkg/requestcontext"
)

// DefaultTopic receives relayed consent changes.
const DefaultTopic = "consent.changed"

// Producer is the subset of the Kafka producer the relay needs.
type Producer interface {
	ProduceAsync(msg *kafka.Message) error
}

// KafkaRelay forwards consent changes to Kafka. Client IDs never leave the
// process in clear: the record key and payload carry a keyed BLAKE2b pseudonym.
type KafkaRelay struct {
	producer     Producer
	topic        string
	pseudonymKey []byte
	logger       *slog.Logger
}

// NewKafkaRelay builds a relay. pseudonymKey must be 1 to 64 bytes.
func NewKafkaRelay(producer Producer, topic string, pseudonymKey []byte, logger *slog.Logger) (*KafkaRelay, error) {
	if producer == nil {
		return nil, errors.New("kafka relay requires a producer")
	}
	if len(pseudonymKey) == 0 || len(pseudonymKey) > blake2b.Size {
		return nil, fmt.Errorf("pseudonym key must be between 1 and %d bytes", blake2b.Size)
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaRelay{
		producer:     producer,
		topic:        topic,
		pseudonymKey: append([]byte(nil), pseudonymKey...),
		logger:       logger,
	}, nil
}

// Pseudonym derives the stable, non-reversible identifier used for clientID.
func (r *KafkaRelay) Pseudonym(clientID string) string {
	h, err := blake2b.New256(r.pseudonymKey)
	if err != nil {
		// key length is validated in NewKafkaRelay
		panic(err)
	}
	h.Write([]byte(clientID))
	return hex.EncodeToString(h.Sum(nil))
}

// Handle publishes evt. It has the Handler signature so it can be subscribed to a Bus.
func (r *KafkaRelay) Handle(ctx context.Context, evt models.ChangedEvent) {
	pseudonym := r.Pseudonym(evt.ClientID)
	evt.ClientID = pseudonym

	value, err := json.Marshal(evt)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode consent event",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}

	msg := &kafka.Message{
		Topic: r.topic,
		Key:   []byte(pseudonym),
		Value: value,
		Headers: map[string]string{
			"outcome": string(evt.Outcome),
			"device":  DeviceLabel(requestcontext.UserAgent(ctx)),
		},
	}
	if err := r.producer.ProduceAsync(msg); err != nil {
		r.logger.WarnContext(ctx, "failed to relay consent event",
			"request_id", requestcontext.RequestID(ctx),
			"topic", r.topic,
			"error", err,
		)
	}
}

// DeviceLabel reduces a User-Agent to a coarse "browser/os/platform" label.
func DeviceLabel(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "unknown"
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return "bot"
	}

	browser, _ := ua.Browser()
	browser = strings.ToLower(strings.TrimSpace(browser))
	if browser == "" {
		browser = "unknown"
	}
	os := strings.ToLower(strings.TrimSpace(ua.OS()))
	if os == "" {
		os = "unknown"
	}
	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}
	return browser + "/" + os + "/" + platform
}
