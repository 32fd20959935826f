package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

func waitGroupOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var mu sync.Mutex
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicDecisionApproved, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			receivedMsg = msg
			mu.Unlock()
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicDecisionApproved, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitGroupOrTimeout(t, &wg, time.Second)

		mu.Lock()
		defer mu.Unlock()
		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicDecisionApproved {
			t.Errorf("expected topic %s, got %s", domain.TopicDecisionApproved, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" {
			t.Error("expected message id to be set")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var approved, paid atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, "isolation.approved", func(ctx context.Context, msg *domain.Message) error {
			approved.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, "isolation.paid", func(ctx context.Context, msg *domain.Message) error {
			paid.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.approved", []byte("msg1"))
		waitGroupOrTimeout(t, &wg, time.Second)
		time.Sleep(20 * time.Millisecond)

		if approved.Load() != 1 {
			t.Errorf("approved subscriber should receive 1 message, got %d", approved.Load())
		}
		if paid.Load() != 0 {
			t.Errorf("paid subscriber should receive 0 messages, got %d", paid.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, "unsub.topic", []byte("after"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages after unsubscribe, got %d", count.Load())
		}

		bus.mu.RLock()
		_, stillRegistered := bus.subscriptions["unsub.topic"]
		bus.mu.RUnlock()
		if stillRegistered {
			t.Error("expected subscription to be removed from the bus")
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(3)

		for i := 0; i < 3; i++ {
			bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
		}

		bus.Publish(ctx, "multi.topic", []byte("fanout"))
		waitGroupOrTimeout(t, &wg, time.Second)
	})

	t.Run("PublishJSON", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		var got domain.DecisionEvent

		bus.Subscribe(ctx, domain.TopicDecisionUpdated, func(ctx context.Context, msg *domain.Message) error {
			defer wg.Done()
			return json.Unmarshal(msg.Payload, &got)
		})

		event := domain.DecisionEvent{
			Operation: "update",
			Decision:  &domain.DecisionView{ID: "dec-1", Status: domain.StatusDraft},
		}
		if err := PublishJSON(ctx, bus, domain.TopicDecisionUpdated, event); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}

		waitGroupOrTimeout(t, &wg, time.Second)
		if got.Decision == nil || got.Decision.ID != "dec-1" {
			t.Errorf("unexpected event: %+v", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		defer sub.Unsubscribe()

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	sub, _ := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	// Unsubscribing after close is harmless
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("unsubscribe after close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type: "kafka",
		}

		if _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	waitGroupOrTimeout(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func TestMessageFromNATS(t *testing.T) {
	m := nats.NewMsg(subjectPrefix + domain.TopicDecisionApproved)
	m.Data = []byte(`{"operation":"approve"}`)
	m.Header.Set(headerMessageID, "msg-1")
	m.Header.Set(headerPublished, "1700000000000000000")

	msg := messageFromNATS(domain.TopicDecisionApproved, m)
	if msg.ID != "msg-1" {
		t.Errorf("expected id msg-1, got %q", msg.ID)
	}
	if msg.Topic != domain.TopicDecisionApproved {
		t.Errorf("unexpected topic %q", msg.Topic)
	}
	if msg.Timestamp != 1700000000000000000 {
		t.Errorf("unexpected timestamp %d", msg.Timestamp)
	}
	if msg.Metadata["subject"] != "sanctiond.sanctions.decision.approved" {
		t.Errorf("unexpected subject %q", msg.Metadata["subject"])
	}
	if string(msg.Payload) != `{"operation":"approve"}` {
		t.Errorf("payload not passed through: %s", msg.Payload)
	}

	bare := messageFromNATS("x", &nats.Msg{Subject: "sanctiond.x", Data: []byte("{}")})
	if bare.ID == "" {
		t.Error("expected a generated id when the header is missing")
	}
}
