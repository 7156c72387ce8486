package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
)

type stubSink struct {
	delivered []*interfaces.CustodyEvent
	fail      bool
}

func (s *stubSink) Deliver(ctx context.Context, topic string, event *interfaces.CustodyEvent) error {
	if s.fail {
		return fmt.Errorf("sink down")
	}
	s.delivered = append(s.delivered, event)
	return nil
}

func testEvent() *interfaces.CustodyEvent {
	return &interfaces.CustodyEvent{
		Type:     "transaction.approved",
		WalletID: uuid.New(),
		EntityID: uuid.New(),
		Status:   "approved",
	}
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("fills id and timestamp", func(t *testing.T) {
		sink := &stubSink{}
		p := NewPublisher("custody.events", []Sink{sink}, zap.NewNop())

		event := testEvent()
		require.NoError(t, p.Publish(ctx, event))
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.False(t, event.Timestamp.IsZero())
		require.Len(t, sink.delivered, 1)
	})

	t.Run("delivery is best-effort across sinks", func(t *testing.T) {
		healthy := &stubSink{}
		broken := &stubSink{fail: true}
		p := NewPublisher("custody.events", []Sink{broken, healthy}, zap.NewNop())

		require.NoError(t, p.Publish(ctx, testEvent()),
			"one live sink is enough")
		assert.Len(t, healthy.delivered, 1)
	})

	t.Run("errors only when every sink fails", func(t *testing.T) {
		p := NewPublisher("custody.events", []Sink{&stubSink{fail: true}, &stubSink{fail: true}}, zap.NewNop())
		assert.Error(t, p.Publish(ctx, testEvent()))
	})

	t.Run("nil event is rejected", func(t *testing.T) {
		p := NewPublisher("custody.events", nil, zap.NewNop())
		assert.Error(t, p.Publish(ctx, nil))
	})
}

func TestWebhookSink(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the event envelope", func(t *testing.T) {
		var body map[string]json.RawMessage
		var eventType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			eventType = r.Header.Get("X-Event-Type")
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &body))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		event := testEvent()
		event.ID = uuid.New()
		require.NoError(t, NewWebhookSink(srv.URL).Deliver(ctx, "custody.events", event))

		assert.Equal(t, "transaction.approved", eventType)
		assert.Contains(t, body, "topic")
		assert.Contains(t, body, "event")
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		assert.Error(t, NewWebhookSink(srv.URL).Deliver(ctx, "custody.events", testEvent()))
	})

	t.Run("unreachable endpoint is an error", func(t *testing.T) {
		assert.Error(t, NewWebhookSink("http://127.0.0.1:1/hook").Deliver(ctx, "custody.events", testEvent()))
	})
}
