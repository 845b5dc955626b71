package processor

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/queue"
	"github.com/nimasrn/payment-reconciler/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type hookRecorder struct {
	mu       sync.Mutex
	events   []model.PaymentEvent
	failNext atomic.Int32
}

func (h *hookRecorder) handle(ctx *fasthttp.RequestCtx) {
	if h.failNext.Load() > 0 {
		h.failNext.Add(-1)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	var ev model.PaymentEvent
	if err := json.Unmarshal(ctx.PostBody(), &ev); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func startHook(t *testing.T) (*hookRecorder, fasthttp.DialFunc) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	rec := &hookRecorder{}
	srv := &fasthttp.Server{Handler: rec.handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(); _ = ln.Close() })
	return rec, func(string) (net.Conn, error) { return ln.Dial() }
}

func startRelay(t *testing.T, adapter redis.RedisAdapter, dial fasthttp.DialFunc) *ProcessorService {
	t.Helper()
	svc := NewProcessorService(adapter, ServiceConfig{
		Queue: queue.QueueConfig{
			Name:              "payment:events",
			ConsumerGroup:     "notifier",
			ConsumerName:      "test",
			MaxRetries:        5,
			VisibilityTimeout: 200 * time.Millisecond,
			PollInterval:      20 * time.Millisecond,
			BatchSize:         10,
		},
		Consumers:         2,
		Workers:           2,
		ProcessingTimeout: time.Second,
	})
	svc.RegisterProcessor(NewEventProcessor(HookConfig{URL: "http://hook.test/events", Timeout: time.Second, Dial: dial}, NewIdempotencyService(adapter, DefaultIdempotencyConfig())))
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)
	return svc
}

func publishEvent(t *testing.T, adapter redis.RedisAdapter, ev model.PaymentEvent) {
	t.Helper()
	q, err := queue.NewQueue(context.Background(), adapter, queue.QueueConfig{Name: "payment:events", ConsumerGroup: "notifier", ConsumerName: "publisher"})
	require.NoError(t, err)
	_, err = q.PublishJSON(context.Background(), ev, map[string]string{"type": string(ev.Type)})
	require.NoError(t, err)
}

func TestEventRelay_DeliversOncePerEvent(t *testing.T) {
	_, adapter := newTestAdapter(t)
	hook, dial := startHook(t)
	startRelay(t, adapter, dial)

	settled := model.PaymentEvent{ID: "ev-1", Type: model.EventPaymentSettled, OrderID: "inv-1", CompanyID: "co-1"}
	publishEvent(t, adapter, settled)
	publishEvent(t, adapter, settled)
	publishEvent(t, adapter, model.PaymentEvent{ID: "ev-2", Type: model.EventPaymentFailed, OrderID: "inv-2"})

	require.Eventually(t, func() bool { return hook.count() == 2 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, hook.count())
}

func TestEventRelay_RetriesRejectedDelivery(t *testing.T) {
	_, adapter := newTestAdapter(t)
	hook, dial := startHook(t)
	hook.failNext.Store(1)
	svc := startRelay(t, adapter, dial)

	publishEvent(t, adapter, model.PaymentEvent{ID: "ev-3", Type: model.EventPaymentRequested, OrderID: "inv-3"})

	require.Eventually(t, func() bool { return hook.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	stats := svc.Stats()
	assert.GreaterOrEqual(t, stats["total_failed"].(int64), int64(1))
	assert.GreaterOrEqual(t, stats["total_processed"].(int64), int64(1))
}

func TestEventProcessor_WithoutHookLogsOnly(t *testing.T) {
	_, adapter := newTestAdapter(t)
	p := NewEventProcessor(HookConfig{}, NewIdempotencyService(adapter, DefaultIdempotencyConfig()))

	data, _ := json.Marshal(model.PaymentEvent{ID: "ev-4", Type: model.EventPaymentCancelled})
	require.NoError(t, p.Process(context.Background(), &queue.Message{ID: "1-0", Data: data, Attempts: 1}))

	assert.Error(t, p.Process(context.Background(), &queue.Message{ID: "1-1", Data: []byte("{"), Attempts: 1}))
}
