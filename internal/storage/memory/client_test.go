package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceLifecycle(t *testing.T) {
	c := New()
	ctx := context.Background()

	online, err := c.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, c.SetOnline(ctx, "alice"))
	online, err = c.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	_, ok, err := c.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	seen := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetOffline(ctx, "alice", seen))

	online, err = c.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	got, ok, err := c.LastSeen(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, seen, got)
}

func TestPushSubscriptions(t *testing.T) {
	c := New()
	ctx := context.Background()

	sub1 := []byte(`{"endpoint":"https://push.example/one","keys":{"p256dh":"k","auth":"a"}}`)
	sub2 := []byte(`{"endpoint":"https://push.example/two","keys":{"p256dh":"k","auth":"a"}}`)
	require.NoError(t, c.AddPushSubscription(ctx, "bob", sub1))
	require.NoError(t, c.AddPushSubscription(ctx, "bob", sub2))

	subs, err := c.PushSubscriptions(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	require.NoError(t, c.RemovePushSubscription(ctx, "bob", "https://push.example/one"))
	subs, err = c.PushSubscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Contains(t, string(subs[0]), "https://push.example/two")
}

func TestPushSubscriptionsCapped(t *testing.T) {
	c := New()
	ctx := context.Background()

	for i := 0; i < maxSubsPerUser+5; i++ {
		sub := []byte(fmt.Sprintf(`{"endpoint":"https://push.example/%d"}`, i))
		require.NoError(t, c.AddPushSubscription(ctx, "bob", sub))
	}
	subs, err := c.PushSubscriptions(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, subs, maxSubsPerUser)
	// Остаются самые свежие.
	assert.Contains(t, string(subs[len(subs)-1]), fmt.Sprintf("/%d", maxSubsPerUser+4))
}
