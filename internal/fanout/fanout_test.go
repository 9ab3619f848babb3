package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New[int](4)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(7)

	select {
	case v := <-s1.C():
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("s1 did not receive")
	}
	select {
	case v := <-s2.C():
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("s2 did not receive")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New[int](4)
	s1 := b.Subscribe()
	b.Unsubscribe(s1)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(1)
	select {
	case <-s1.C():
		t.Fatal("unsubscribed subscriber should not receive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberLagsWithoutBlockingPublisher(t *testing.T) {
	b := New[int](2)
	slow := b.Subscribe()
	defer b.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	var gotLagged bool
	for i := 0; i < 10; i++ {
		select {
		case <-slow.C():
		case <-slow.LaggedC():
			gotLagged = true
		default:
		}
	}
	require.True(t, gotLagged, "expected at least one Lagged notification")
}
