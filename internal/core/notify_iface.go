package core

import (
	"context"

	"github.com/dkeye/mediarelay/internal/domain"
)

// VideoUpdate tells a recipient the SSRCs it receives for one producer.
type VideoUpdate struct {
	UserID domain.UserID `json:"user_id"`
	domain.StreamSSRCs
}

// SpeakingUpdate tells a recipient that a producer started or stopped speaking.
type SpeakingUpdate struct {
	UserID   domain.UserID `json:"user_id"`
	Speaking bool          `json:"speaking"`
	SSRC     uint32        `json:"ssrc"`
}

type AnswerMessage struct {
	RoomID     domain.RoomID `json:"room_id"`
	UserID     domain.UserID `json:"user_id"`
	SDP        string        `json:"sdp"`
	AudioCodec string        `json:"audio_codec"`
	VideoCodec string        `json:"video_codec"`
}

// Notifier carries reconciliation output upstream.
type Notifier interface {
	SendAnswer(ctx context.Context, msg AnswerMessage) error
	SendVideoBatch(ctx context.Context, batch map[domain.UserID]VideoUpdate) error
	SendSpeakingBatch(ctx context.Context, batch map[domain.UserID]SpeakingUpdate) error
}
