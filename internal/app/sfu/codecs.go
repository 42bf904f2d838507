package sfu

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/dkeye/mediarelay/internal/domain"
)

const (
	AudioCodecName = "opus"
	VideoCodecName = "VP8"
)

var audioCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1;usedtx=1",
	},
	PayloadType: 111,
}

var videoCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: "ccm", Parameter: "fir"},
			{Type: "nack"},
			{Type: "nack", Parameter: "pli"},
			{Type: "goog-remb"},
		},
	},
	PayloadType: 101,
}

func codecFor(kind domain.TrackKind) webrtc.RTPCodecCapability {
	if kind == domain.TrackAudio {
		return audioCodec.RTPCodecCapability
	}
	return videoCodec.RTPCodecCapability
}

func kindOf(t webrtc.RTPCodecType) (domain.TrackKind, bool) {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return domain.TrackAudio, true
	case webrtc.RTPCodecTypeVideo:
		return domain.TrackVideo, true
	}
	return "", false
}

// videoCodecs maps upper-cased client codec names to the names this node
// answers with.
var videoCodecs = map[string]string{
	"VP8": VideoCodecName,
}

type APIOptions struct {
	PortMin  uint16
	PortMax  uint16
	PublicIP string
}

// NewAPI builds the pion API shared by every peer connection: the fixed codec
// set, default interceptors plus periodic PLI, and the media port range.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(audioCodec, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, errors.Wrap(err, "register opus")
	}
	if err := m.RegisterCodec(videoCodec, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, errors.Wrap(err, "register vp8")
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, errors.Wrap(err, "register default interceptors")
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, errors.Wrap(err, "create pli interceptor")
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{}
	if opts.PortMin > 0 && opts.PortMax >= opts.PortMin {
		if err := se.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, errors.Wrap(err, "set udp port range")
		}
	}
	if opts.PublicIP != "" && opts.PublicIP != "0.0.0.0" {
		se.SetNAT1To1IPs([]string{opts.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}
