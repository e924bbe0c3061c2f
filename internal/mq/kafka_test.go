package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

type scriptedReader struct {
	msgs   []kafka.Message
	errs   []error
	cancel context.CancelFunc
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return kafka.Message{}, err
	}
	if len(s.msgs) == 0 {
		s.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func sampleEvent() contracts.UpdateEvent {
	return contracts.UpdateEvent{
		ID:        "e1",
		Type:      contracts.UpdateCascade,
		AlertID:   "A",
		Timestamp: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Data:      map[string]any{"cascade_impact": 50.0},
	}
}

func TestEventPublisherKeysByAlert(t *testing.T) {
	w := &captureWriter{}
	require.NoError(t, NewEventPublisher(w).Publish(context.Background(), sampleEvent()))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "A", string(w.msgs[0].Key))

	got, err := ParseMessageJSON[contracts.UpdateEvent](w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, sampleEvent(), got)
}

func TestConsumeEventsSkipsBadMessages(t *testing.T) {
	good, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedReader{
		msgs:   []kafka.Message{{Value: []byte("not json")}, {Value: good}, {Value: good}},
		errs:   []error{errors.New("broker unavailable")},
		cancel: cancel,
	}

	var handled []contracts.UpdateEvent
	err = ConsumeEvents(ctx, r, zap.NewNop(), func(_ context.Context, e contracts.UpdateEvent) error {
		handled = append(handled, e)
		if len(handled) == 1 {
			return errors.New("first handler call fails")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, handled, 2)
	assert.Equal(t, "A", handled[0].AlertID)
}
