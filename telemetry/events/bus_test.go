package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pullsched/telemetry/metrics"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(metrics.NewNoopProvider())
	sub, err := b.Subscribe(4)
	require.NoError(t, err)
	defer sub.Close()

	err = b.Publish(Event{Category: CategoryJob, Type: TypeJobSubmitted, Fields: map[string]interface{}{"job_id": "j1"}})
	require.NoError(t, err)

	select {
	case ev := <-sub.C():
		assert.Equal(t, TypeJobSubmitted, ev.Type)
		assert.Equal(t, "j1", ev.Fields["job_id"])
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublishRejectsMissingCategory(t *testing.T) {
	b := NewBus(metrics.NewNoopProvider())
	err := b.Publish(Event{Type: TypeJobSubmitted})
	assert.Error(t, err)
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus(metrics.NewNoopProvider())
	sub, err := b.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(Event{Category: CategoryLease, Type: TypeLeaseGranted}))
	require.NoError(t, b.Publish(Event{Category: CategoryLease, Type: TypeLeaseGranted}))

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(metrics.NewNoopProvider())
	sub, err := b.Subscribe(1)
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(sub))
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, int64(0), b.Stats().Subscribers)
}
