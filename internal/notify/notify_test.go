package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testEvent() Event {
	return NewEvent(EventTransactionPosted, uuid.New(), map[string]any{"amount": "100.00"}).
		ForAccount(uuid.New())
}

func TestRedisNotifier_PushesAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, RedisChannel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client)
	e := testEvent()
	require.NoError(t, n.Notify(ctx, e))

	pending, err := n.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	raw, err := client.LPop(ctx, RedisListKey).Result()
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, EventTransactionPosted, got.Type)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, e.ID.String())
}

func TestRedisNotifier_ReportsConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	err := NewRedisNotifier(client).Notify(context.Background(), testEvent())
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifier_KeysBySubject(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w}
	e := testEvent()

	require.NoError(t, n.Notify(context.Background(), e))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, e.SubjectID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, EventTransactionPosted, string(w.msgs[0].Headers[0].Value))

	w.err = errors.New("broker unavailable")
	assert.Error(t, n.Notify(context.Background(), e))
}

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQPNotifier_RoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	n, err := newAMQPNotifier(ch, "ledger_events")
	require.NoError(t, err)

	e := testEvent()
	require.NoError(t, n.Notify(context.Background(), e))

	assert.Equal(t, []string{"ledger_events:topic"}, ch.declared)
	assert.Equal(t, []string{EventTransactionPosted}, ch.keys)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Equal(t, e.ID.String(), ch.published[0].MessageId)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("down")
}

func TestDispatcher_LogsFailuresAndContinues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := &failingNotifier{}
	d := NewDispatcher(n, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Send(ctx, testEvent(), testEvent())

	assert.Equal(t, 2, n.calls)
	assert.Equal(t, 2, logs.FilterMessage("failed to deliver notification").Len())
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), testEvent()))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, EventTransactionPosted, entries[0].ContextMap()["event_type"])
}
