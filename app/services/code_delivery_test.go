package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEStreamRegistryFanOut(t *testing.T) {
	registry := NewSSEStreamRegistry()
	expertUUID := uuid.New().String()

	first, unsubFirst := registry.Subscribe(expertUUID)
	second, unsubSecond := registry.Subscribe(expertUUID)
	defer unsubFirst()
	defer unsubSecond()

	assert.Equal(t, 2, registry.SubscriberCount(expertUUID))

	notification := &CodeNotification{
		CodeUUID:   uuid.New().String(),
		ExpertUUID: expertUUID,
		Code:       "482913",
		Platform:   "facebook",
		Confidence: 0.95,
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, registry.Deliver(context.Background(), notification))

	for _, ch := range []<-chan *CodeNotification{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, "482913", got.Code)
		default:
			t.Fatal("expected a buffered notification")
		}
	}
}

func TestSSEStreamRegistryUnsubscribe(t *testing.T) {
	registry := NewSSEStreamRegistry()
	expertUUID := uuid.New().String()

	ch, unsubscribe := registry.Subscribe(expertUUID)
	assert.Equal(t, 1, registry.SubscriberCount(expertUUID))

	unsubscribe()
	assert.Equal(t, 0, registry.SubscriberCount(expertUUID))

	_, open := <-ch
	assert.False(t, open)

	// Safe to call again.
	unsubscribe()
}

func TestSSEStreamRegistryDeliverWithoutSubscribers(t *testing.T) {
	registry := NewSSEStreamRegistry()

	err := registry.Deliver(context.Background(), &CodeNotification{
		ExpertUUID: uuid.New().String(),
		Code:       "482913",
	})
	assert.NoError(t, err)
}

func TestSSEStreamRegistrySkipsStuckSubscriber(t *testing.T) {
	registry := NewSSEStreamRegistry()
	expertUUID := uuid.New().String()

	ch, unsubscribe := registry.Subscribe(expertUUID)
	defer unsubscribe()

	notification := &CodeNotification{ExpertUUID: expertUUID, Code: "482913"}
	for i := 0; i < 20; i++ {
		require.NoError(t, registry.Deliver(context.Background(), notification))
	}

	// Channel buffer is 16; the overflow was dropped, not blocked on.
	assert.Len(t, ch, 16)
}

func TestSSEStreamRegistryIsolatesExperts(t *testing.T) {
	registry := NewSSEStreamRegistry()

	mine, unsubMine := registry.Subscribe(uuid.New().String())
	defer unsubMine()

	require.NoError(t, registry.Deliver(context.Background(), &CodeNotification{
		ExpertUUID: uuid.New().String(),
		Code:       "482913",
	}))

	assert.Len(t, mine, 0)
}
