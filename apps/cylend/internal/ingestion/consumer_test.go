package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cylend/apps/cylend/internal/events"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeKafka struct {
	mu        sync.Mutex
	messages  []*kafka.Message
	committed []*kafka.Message
	onDrain   func()
}

func (f *fakeKafka) Subscribe(string, kafka.RebalanceCb) error { return nil }

func (f *fakeKafka) ReadMessage(time.Duration) (*kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		if f.onDrain != nil {
			f.onDrain()
		}
		return nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeKafka) CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, m)
	return nil, nil
}

func (f *fakeKafka) Close() error { return nil }

func message(t *testing.T, kind events.Kind) *kafka.Message {
	t.Helper()
	ev, err := events.NewChainEvent(events.ChainCustody, kind, common.HexToHash("0x01"), 1, 0, time.Unix(0, 0), struct{}{})
	require.NoError(t, err)
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return &kafka.Message{Key: []byte(events.ChainCustody), Value: value}
}

func TestConsumerCommitsHandledAndSkippedMessages(t *testing.T) {
	calls := map[events.Kind]int{}
	handlers := map[Key]HandlerFunc{
		{events.ChainCustody, events.KindDepositCreated}: func(context.Context, events.ChainEvent, Deps) error {
			calls[events.KindDepositCreated]++
			return nil
		},
		{events.ChainCustody, events.KindWithdrawUnused}: func(context.Context, events.ChainEvent, Deps) error {
			calls[events.KindWithdrawUnused]++
			if calls[events.KindWithdrawUnused] <= 7 {
				return errors.New("store down")
			}
			return nil
		},
		{events.ChainCustody, events.KindLiquidityUpdated}: func(_ context.Context, ev events.ChainEvent, _ Deps) error {
			calls[events.KindLiquidityUpdated]++
			var p events.LiquidityUpdated
			return ev.Decode(&p)
		},
	}
	engine := NewEngineWithHandlers(handlers, Deps{Logger: zap.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	value, err := json.Marshal(events.ChainEvent{
		Chain: events.ChainCustody,
		Kind:  events.KindLiquidityUpdated,
		Data:  json.RawMessage(`"not an object"`),
	})
	require.NoError(t, err)
	broken := &kafka.Message{Value: value}

	client := &fakeKafka{
		messages: []*kafka.Message{
			message(t, events.KindDepositCreated),
			{Value: []byte("not json")},
			broken,
			message(t, events.KindWithdrawUnused),
		},
		onDrain: cancel,
	}
	c := newConsumer(client, "chain-events", engine, zap.NewNop())
	c.retryDelay = time.Millisecond
	c.maxRetryDelay = 2 * time.Millisecond

	require.NoError(t, c.Start(ctx))

	assert.Equal(t, 1, calls[events.KindDepositCreated])
	assert.Equal(t, 1, calls[events.KindLiquidityUpdated])
	assert.Equal(t, 8, calls[events.KindWithdrawUnused])
	assert.Len(t, client.committed, 4)
}

func TestConsumerBackoffIsCapped(t *testing.T) {
	c := newConsumer(&fakeKafka{}, "chain-events", nil, zap.NewNop())

	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 3*time.Second, c.backoff(3))
	assert.Equal(t, 30*time.Second, c.backoff(100))
}

func TestConsumerLeavesOffsetWhenStoppedMidRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlers := map[Key]HandlerFunc{
		{events.ChainCustody, events.KindDepositCreated}: func(context.Context, events.ChainEvent, Deps) error {
			cancel()
			return errors.New("store down")
		},
	}
	engine := NewEngineWithHandlers(handlers, Deps{Logger: zap.NewNop()})

	client := &fakeKafka{messages: []*kafka.Message{message(t, events.KindDepositCreated)}}
	c := newConsumer(client, "chain-events", engine, zap.NewNop())
	c.retryDelay = time.Hour

	require.NoError(t, c.Start(ctx))
	assert.Empty(t, client.committed)
}
