package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// wait blocks until wg is done or the timeout elapses.
func wait(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
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
		var receivedMsg *domain.Message
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicAlert, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		wait(t, &wg, time.Second)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicAlert {
			t.Errorf("expected topic %q, got %q", domain.TopicAlert, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" || receivedMsg.Timestamp == 0 {
			t.Error("expected message ID and timestamp to be set")
		}
	})

	t.Run("PublishJSON", func(t *testing.T) {
		var got domain.CompletionMessage
		var wg sync.WaitGroup
		wg.Add(1)

		sub, _ := bus.Subscribe(ctx, domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			defer wg.Done()
			return json.Unmarshal(msg.Payload, &got)
		})
		defer sub.Unsubscribe()

		want := domain.CompletionMessage{JobID: "job-1", Module: domain.ModuleFraud, Status: domain.JobCompleted, Rows: 10, Critical: 2}
		if err := PublishJSON(ctx, bus, domain.TopicAnalysisCompleted, want); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}
		wait(t, &wg, time.Second)

		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var submitted, completed atomic.Int32

		bus.Subscribe(ctx, "isolation.submitted", func(ctx context.Context, msg *domain.Message) error {
			submitted.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "isolation.completed", func(ctx context.Context, msg *domain.Message) error {
			completed.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.submitted", []byte("data"))
		time.Sleep(50 * time.Millisecond)

		if submitted.Load() != 1 {
			t.Errorf("expected 1 submitted message, got %d", submitted.Load())
		}
		if completed.Load() != 0 {
			t.Errorf("expected no completed messages, got %d", completed.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}

		bus.mu.RLock()
		_, ok := bus.subscriptions["unsub.topic"]
		bus.mu.RUnlock()
		if ok {
			t.Error("expected subscription to be removed")
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, domain.TopicDatasetSubmitted, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		defer sub.Unsubscribe()

		if sub.Topic() != domain.TopicDatasetSubmitted {
			t.Errorf("expected topic %q, got %q", domain.TopicDatasetSubmitted, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestChannelBusFullBuffer(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var handled atomic.Int32
	bus.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "slow.topic", []byte("msg")); err != nil {
			t.Fatalf("publish must not block or fail: %v", err)
		}
	}
	close(release)
	time.Sleep(50 * time.Millisecond)

	if n := handled.Load(); n < 1 || n > 2 {
		t.Errorf("expected the overflow to be dropped, handled %d", n)
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
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if err == nil {
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

	bus.Subscribe(ctx, domain.TopicDatasetSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, domain.TopicDatasetSubmitted, []byte("msg"))
	}

	wait(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func TestNATSEnvelope(t *testing.T) {
	msg := newMessage(domain.TopicAlert, []byte(`{"critical":3}`))
	msg.Metadata["module"] = "fraud"

	m := toNATS(msg)
	if m.Subject != domain.TopicAlert {
		t.Errorf("expected subject %s, got %s", domain.TopicAlert, m.Subject)
	}
	if string(m.Data) != `{"critical":3}` {
		t.Errorf("payload should travel as the raw body, got %s", m.Data)
	}

	got := fromNATS(m)
	if got.ID != msg.ID {
		t.Errorf("expected ID %s, got %s", msg.ID, got.ID)
	}
	if got.Timestamp != msg.Timestamp {
		t.Errorf("expected timestamp %d, got %d", msg.Timestamp, got.Timestamp)
	}
	if got.Metadata["module"] != "fraud" {
		t.Errorf("expected module metadata, got %v", got.Metadata)
	}

	t.Run("MissingHeaders", func(t *testing.T) {
		bare := &nats.Msg{Subject: domain.TopicAlert, Data: []byte("x")}
		got := fromNATS(bare)
		if got.ID == "" {
			t.Error("expected a generated ID")
		}
		if got.Topic != domain.TopicAlert || len(got.Metadata) != 0 {
			t.Errorf("unexpected message %+v", got)
		}
	})
}

func TestNATSQueueGroup(t *testing.T) {
	b := &NATSBus{cfg: domain.EventBusConfig{NATSQueue: "kestrel-workers"}}
	if q := b.queueFor(domain.TopicDatasetSubmitted); q != "kestrel-workers" {
		t.Errorf("submissions should join the queue group, got %q", q)
	}
	if q := b.queueFor(domain.TopicAlert); q != "" {
		t.Errorf("alerts should fan out, got %q", q)
	}
}
