package sfu

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"

	"github.com/dkeye/mediarelay/internal/core"
)

// parseOffer validates the client's offer and returns the codec names it
// lists, upper-cased as in a=rtpmap.
func parseOffer(raw string) (map[string]bool, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, errors.Wrap(err, "parse offer")
	}
	if len(sd.MediaDescriptions) == 0 {
		return nil, ErrNoMedia
	}
	offered := make(map[string]bool)
	for _, md := range sd.MediaDescriptions {
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}
			codec, err := sd.GetCodecForPayloadType(uint8(pt))
			if err != nil {
				continue
			}
			offered[strings.ToUpper(codec.Name)] = true
		}
	}
	return offered, nil
}

// selectVideoCodec picks the client's most preferred (lowest priority value)
// video codec that this node relays and, when the offer lists codecs, that
// the offer carries too. VP8 is the fallback.
func selectVideoCodec(client []core.ClientCodec, offered map[string]bool) string {
	candidates := slices.Clone(client)
	slices.SortStableFunc(candidates, func(a, b core.ClientCodec) int { return a.Priority - b.Priority })
	for _, c := range candidates {
		if c.Type != "video" {
			continue
		}
		name, ok := videoCodecs[strings.ToUpper(c.Name)]
		if !ok {
			continue
		}
		if len(offered) > 0 && !offered[strings.ToUpper(c.Name)] {
			continue
		}
		return name
	}
	return VideoCodecName
}

// AnswerOffer negotiates a fresh peer connection for the participant and
// binds its existing subscriptions to it.
func (s *Server) AnswerOffer(ctx context.Context, req core.OfferRequest) (*core.Answer, error) {
	p, ok := req.Participant.(*Participant)
	if !ok || p.server != s {
		return nil, ErrForeignParticipant
	}
	offered, err := parseOffer(req.SDP)
	if err != nil {
		return nil, err
	}
	videoCodec := selectVideoCodec(req.Codecs, offered)
	p.logger.Info().
		Str("client_build", req.ClientBuild).
		Time("client_build_date", req.ClientBuildDate).
		Int("client_codecs", len(req.Codecs)).
		Str("video_codec", videoCodec).
		Msg("answering offer")

	conn, err := s.newConnection(p.UserID())
	if err != nil {
		return nil, err
	}
	conn.OnTrack(p.onTrack)
	conn.OnClosed(func() { p.detach(conn) })
	conn.Start(s.ctx)

	if err := p.attach(conn); err != nil {
		p.detach(conn)
		conn.Close()
		return nil, errors.Wrap(err, "bind subscriptions")
	}
	desc, err := conn.Answer(ctx, req.SDP)
	if err != nil {
		p.detach(conn)
		conn.Close()
		return nil, err
	}
	return &core.Answer{SDP: desc.SDP, VideoCodec: videoCodec}, nil
}
