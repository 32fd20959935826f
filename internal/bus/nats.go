package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/sanctiond/internal/domain"
)

const (
	subjectPrefix = "sanctiond."

	headerMessageID = "Nats-Msg-Id"
	headerTopic     = "Sanctiond-Topic"
	headerPublished = "Sanctiond-Published"
)

// NATSBus carries decision events over NATS for multi-replica deployments.
// Message identity travels in headers and the payload is sent as-is, so
// other consumers can read decision events without knowing the envelope.
type NATSBus struct {
	conn  *nats.Conn
	queue string

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus dials the configured server, retrying up to NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "sanctiond"
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	conn, err := dialNATS(cfg.NATSUrl, cfg.NATSMaxReconnects, wait, natsOptions(cfg, wait))
	if err != nil {
		return nil, err
	}

	slog.Info("event bus connected to NATS",
		"url", conn.ConnectedUrl(),
		"queue_group", cfg.QueueGroup,
	)

	return &NATSBus{
		conn:  conn,
		queue: cfg.QueueGroup,
		subs:  make(map[string]*natsSubscription),
	}, nil
}

func natsOptions(cfg domain.EventBusConfig, wait time.Duration) []nats.Option {
	opts := []nats.Option{
		nats.Name("sanctiond"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("decision events paused, NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("decision events resumed", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{"error", err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject)
			}
			slog.Error("NATS async error", attrs...)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

func dialNATS(url string, attempts int, wait time.Duration, opts []nats.Option) (*nats.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS dial failed", "attempt", attempt, "of", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("connect to NATS at %s: %w", url, lastErr)
}

// Publish sends payload on the topic's subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := nats.NewMsg(subjectPrefix + topic)
	msg.Data = payload
	msg.Header.Set(headerMessageID, uuid.NewString())
	msg.Header.Set(headerTopic, topic)
	msg.Header.Set(headerPublished, strconv.FormatInt(time.Now().UnixNano(), 10))

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the bus queue group on the topic's subject, so each event
// is handled by one replica only.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	natsSub, err := b.conn.QueueSubscribe(subjectPrefix+topic, b.queue, func(m *nats.Msg) {
		msg := messageFromNATS(topic, m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("decision event handler failed",
				"topic", topic,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &natsSubscription{id: uuid.NewString(), topic: topic, sub: natsSub, bus: b}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

func messageFromNATS(topic string, m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		ID:       m.Header.Get(headerMessageID),
		Topic:    topic,
		Payload:  m.Data,
		Metadata: map[string]string{"subject": m.Subject},
	}
	if ts, err := strconv.ParseInt(m.Header.Get(headerPublished), 10, 64); err == nil {
		msg.Timestamp = ts
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return msg
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.sub.Unsubscribe()
	}
	b.conn.Close()
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
