package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// TrackKinds lists every kind a participant can produce.
var TrackKinds = [...]TrackKind{TrackAudio, TrackVideo}

// StreamSSRCs is the audio/video/rtx SSRC triple. Zero means absent.
type StreamSSRCs struct {
	Audio uint32 `json:"audio_ssrc"`
	Video uint32 `json:"video_ssrc"`
	RTX   uint32 `json:"rtx_ssrc"`
}

// For returns the primary SSRC of the given kind.
func (s StreamSSRCs) For(kind TrackKind) uint32 {
	if kind == TrackAudio {
		return s.Audio
	}
	return s.Video
}

// WithAudio returns a copy with the audio SSRC replaced.
func (s StreamSSRCs) WithAudio(ssrc uint32) StreamSSRCs {
	s.Audio = ssrc
	return s
}

func (s StreamSSRCs) IsZero() bool {
	return s == StreamSSRCs{}
}

// SubscriptionView is what a consumer sees of one producer.
type SubscriptionView = StreamSSRCs
