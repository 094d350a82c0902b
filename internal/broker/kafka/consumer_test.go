package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/FreightTrack/internal/broker/messages"
	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandlerAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("jamef:1160274"), Value: []byte(`{"task_id":"t1"}`)}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr, "scrape.requested")

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("jamef:1160274"), gotK)
	require.Equal(t, []byte(`{"task_id":"t1"}`), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr, "scrape.requested")

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumeJSON_DecodesAndCommitsUndecodable(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("jamef:1"), Value: []byte(`not json`)},
			{Key: []byte("jamef:2"), Value: []byte(`{"task_id":"t2","carrier":"jamef","invoice_number":"2"}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr, "scrape.requested")

	var got []messages.ScrapeRequested
	var keys []string
	err := ConsumeJSON(context.Background(), c, func(ctx context.Context, key string, m messages.ScrapeRequested) error {
		keys = append(keys, key)
		got = append(got, m)
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []string{"jamef:2"}, keys)
	require.Equal(t, "t2", got[0].TaskID)
	require.Equal(t, models.CarrierJamef, got[0].Carrier)
	// битое сообщение тоже закоммичено
	require.Len(t, fr.committed, 2)
}

func TestConsumeJSON_HandlerErrorStops(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte(`{"delivery_id":7}`)}}}
	c := newConsumerWithReader(fr, "delivery.updated")

	want := errors.New("cache down")
	err := ConsumeJSON(context.Background(), c, func(ctx context.Context, key string, m messages.DeliveryUpdated) error {
		return want
	})
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "scrape.requested", "track-worker")
	require.NotNil(t, c)
	require.Equal(t, "scrape.requested", c.Topic())
	require.NoError(t, c.Close())
}
