// Package publish implements optional downstream publication of committed
// session-summary deltas, so a consumer like an Elasticsearch indexer can
// subscribe to a topic instead of polling session_summary for changes.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// KafkaProducerConfig mirrors the knobs a Kafka writer needs; zero values
// fall back to the same defaults the loader uses elsewhere.
type KafkaProducerConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	WriteTimeout time.Duration
	Balancer     kafka.Balancer
}

// SessionPublisher produces one JSON message per session delta, keyed by
// session ID so repeated upserts for the same session land on the same
// partition and a downstream consumer sees them in order.
type SessionPublisher struct {
	writer      *kafka.Writer
	topic       string
	maxAttempts int
}

// NewSessionPublisher builds a publisher bound to cfg. Returns an error if
// brokers or topic are missing; callers should only construct one when the
// operator has actually configured Kafka.
func NewSessionPublisher(cfg KafkaProducerConfig) (*SessionPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("publish: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("publish: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     cfg.Balancer,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &SessionPublisher{writer: w, topic: cfg.Topic, maxAttempts: cfg.MaxAttempts}, nil
}

// NewSessionPublisherFromEnv builds a publisher from the loose config shape
// cmd/ingest carries (comma-separated broker list, single topic string).
// Returns (nil, nil) when brokers or topic are unset, since Kafka
// publication is optional and most deployments won't set either.
func NewSessionPublisherFromEnv(brokersCSV, topic string) (*SessionPublisher, error) {
	if strings.TrimSpace(brokersCSV) == "" || strings.TrimSpace(topic) == "" {
		return nil, nil
	}
	brokers := strings.Split(brokersCSV, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return NewSessionPublisher(KafkaProducerConfig{Brokers: brokers, Topic: topic})
}

// sessionEnvelope is the wire shape published per delta: the full delta plus
// a publish timestamp, so a consumer building its own materialized view
// doesn't need a second query to find out when the upsert happened.
type sessionEnvelope struct {
	SessionID        string    `json:"session_id"`
	EventCount       int       `json:"event_count"`
	CommandCount     int       `json:"command_count"`
	FileDownloads    int       `json:"file_downloads"`
	LoginAttempts    int       `json:"login_attempts"`
	FirstEventAt     time.Time `json:"first_event_at"`
	LastEventAt      time.Time `json:"last_event_at"`
	RiskScore        int       `json:"risk_score"`
	SourceFiles      []string  `json:"source_files"`
	VTFlagged        bool      `json:"vt_flagged"`
	DShieldFlagged   bool      `json:"dshield_flagged"`
	SSHKeyInjections int       `json:"ssh_key_injections"`
	UniqueSSHKeys    []string  `json:"unique_ssh_keys"`
	PublishedAt      time.Time `json:"published_at"`
}

// PublishDeltas produces one message per delta. A failure on one delta is
// logged by the caller and does not block the others; publication is a
// best-effort side channel off the committed transaction, not part of the
// ingest contract.
func (p *SessionPublisher) PublishDeltas(ctx context.Context, deltas []*storage.SessionDelta, publishedAt time.Time) []error {
	var errs []error
	for _, d := range deltas {
		if err := p.publishOne(ctx, d, publishedAt); err != nil {
			errs = append(errs, fmt.Errorf("publish: session %s: %w", d.SessionID, err))
		}
	}
	return errs
}

func (p *SessionPublisher) publishOne(ctx context.Context, d *storage.SessionDelta, publishedAt time.Time) error {
	envelope := sessionEnvelope{
		SessionID:        d.SessionID,
		EventCount:       d.EventCount,
		CommandCount:     d.CommandCount,
		FileDownloads:    d.FileDownloads,
		LoginAttempts:    d.LoginAttempts,
		FirstEventAt:     d.FirstEventAt,
		LastEventAt:      d.LastEventAt,
		RiskScore:        d.RiskScore,
		SourceFiles:      d.SourceFiles,
		VTFlagged:        d.VTFlagged,
		DShieldFlagged:   d.DShieldFlagged,
		SSHKeyInjections: d.SSHKeyInjections,
		UniqueSSHKeys:    d.UniqueSSHKeys,
		PublishedAt:      publishedAt,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal session envelope: %w", err)
	}
	return p.produce(ctx, []byte(d.SessionID), value)
}

// produce retries a single write up to maxAttempts times with exponential
// backoff: transient broker hiccups shouldn't fail an otherwise-successful
// ingest batch.
func (p *SessionPublisher) produce(ctx context.Context, key, value []byte) error {
	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg := kafka.Message{Key: key, Value: value, Time: time.Now().UTC()}

		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (p *SessionPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
