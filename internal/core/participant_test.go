package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/mediarelay/internal/domain"
)

func TestParticipantState_RecordSubscriptionIsIdempotent(t *testing.T) {
	s := NewParticipantState("b", "r1")

	require.True(t, s.RecordSubscription("a", domain.TrackAudio))
	require.False(t, s.RecordSubscription("a", domain.TrackAudio))
	require.Len(t, s.Subscriptions(), 1)
	require.True(t, s.SubscriptionsContain("a", domain.TrackAudio))
	require.False(t, s.SubscriptionsContain("a", domain.TrackVideo))
}

func TestParticipantState_NeverSubscribesToSelf(t *testing.T) {
	s := NewParticipantState("a", "r1")

	require.False(t, s.RecordSubscription("a", domain.TrackAudio))
	require.Empty(t, s.Subscriptions())
}

func TestParticipantState_RemoveSubscription(t *testing.T) {
	s := NewParticipantState("b", "r1")
	s.RecordSubscription("a", domain.TrackVideo)

	require.True(t, s.RemoveSubscription("a", domain.TrackVideo))
	require.False(t, s.RemoveSubscription("a", domain.TrackVideo))
	require.False(t, s.SubscriptionsContain("a", domain.TrackVideo))
}

func TestParticipantState_ProducingIsExplicit(t *testing.T) {
	s := NewParticipantState("a", "r1")

	s.SetIncomingStreams(domain.StreamSSRCs{Audio: 111})
	require.False(t, s.IsProducing(domain.TrackAudio), "ssrc alone must not imply producing")

	s.SetProducing(domain.TrackAudio, true)
	require.True(t, s.IsProducing(domain.TrackAudio))
	require.False(t, s.IsProducing(domain.TrackVideo))

	s.SetProducing(domain.TrackAudio, false)
	require.False(t, s.IsProducing(domain.TrackAudio))
}

func TestParticipantState_SetIncomingStreamsReplaces(t *testing.T) {
	s := NewParticipantState("a", "r1")
	s.SetIncomingStreams(domain.StreamSSRCs{Audio: 1, Video: 2, RTX: 3})
	s.SetIncomingStreams(domain.StreamSSRCs{Video: 5})

	require.Equal(t, domain.StreamSSRCs{Video: 5}, s.IncomingStreams())
}

func TestParticipantState_ResolveOutgoingView(t *testing.T) {
	resolve := func(sub Subscription) (uint32, uint32) {
		if sub.Kind == domain.TrackAudio {
			return 1001, 0
		}
		return 2001, 2002
	}

	t.Run("not subscribed", func(t *testing.T) {
		s := NewParticipantState("b", "r1")
		require.True(t, s.ResolveOutgoingView("a", resolve).IsZero())
	})

	t.Run("audio only", func(t *testing.T) {
		s := NewParticipantState("b", "r1")
		s.RecordSubscription("a", domain.TrackAudio)
		require.Equal(t, domain.SubscriptionView{Audio: 1001}, s.ResolveOutgoingView("a", resolve))
	})

	t.Run("audio and video", func(t *testing.T) {
		s := NewParticipantState("b", "r1")
		s.RecordSubscription("a", domain.TrackAudio)
		s.RecordSubscription("a", domain.TrackVideo)
		require.Equal(t,
			domain.SubscriptionView{Audio: 1001, Video: 2001, RTX: 2002},
			s.ResolveOutgoingView("a", resolve),
		)
	})
}
