package control

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

var (
	ErrMalformed = errors.New("malformed control frame")
	ErrUnknownOp = errors.New("unknown opcode")
)

// Decode parses one inbound frame. The opcode is peeked before the payload
// is decoded into its concrete event type.
func Decode(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformed
	}
	res := gjson.GetManyBytes(data, "op", "d")
	op, d := Op(res[0].String()), res[1]
	if op == "" {
		return nil, errors.Wrap(ErrMalformed, "missing op")
	}
	raw := []byte(d.Raw)

	switch op {
	case OpAlright:
		return decode[Alright](raw)
	case OpHeartbeatInfo:
		return decode[HeartbeatInfo](raw)
	case OpClientIdentify:
		return decode[ClientIdentify](raw)
	case OpClientClose:
		return decode[ClientClose](raw)
	case OpClientSpeaking:
		return decode[ClientSpeaking](raw)
	case OpVideo:
		return decode[Video](raw)
	case OpOffer:
		ev, err := decodeAs[Offer](raw)
		if err != nil {
			return nil, err
		}
		ev.ClientBuildDate = buildDate(d.Get("client_build_date"))
		return ev, nil
	}
	return nil, errors.Wrapf(ErrUnknownOp, "%q", op)
}

func decode[T Event](raw []byte) (Event, error) {
	ev, err := decodeAs[T](raw)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeAs[T Event](raw []byte) (T, error) {
	var ev T
	if len(raw) == 0 {
		return ev, errors.Wrap(ErrMalformed, "missing d")
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, errors.Wrapf(ErrMalformed, "%s: %v", ev.op(), err)
	}
	return ev, nil
}

// buildDate accepts unix milliseconds or an RFC 3339 string.
func buildDate(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC()
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return t
		}
	}
	return time.Time{}
}

func encode(op Op, d any) (core.Frame, error) {
	b, err := json.Marshal(envelope{Op: op, D: d})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", op)
	}
	return b, nil
}

func EncodeIdentify(publicIP string, publicPort int, now time.Time) (core.Frame, error) {
	return encode(OpIdentify, identifyPayload{
		PublicIP:   publicIP,
		PublicPort: publicPort,
		Timestamp:  now.UnixMilli(),
	})
}

func EncodeHeartbeat(now time.Time) (core.Frame, error) {
	return encode(OpHeartbeat, now.UnixMilli())
}

func EncodeAnswer(msg core.AnswerMessage) (core.Frame, error) {
	return encode(OpAnswer, msg)
}

func EncodeVideoBatch(batch map[domain.UserID]core.VideoUpdate) (core.Frame, error) {
	return encode(OpVideoBatch, wrapEntries(SubOpVideo, batch))
}

func EncodeSpeakingBatch(batch map[domain.UserID]core.SpeakingUpdate) (core.Frame, error) {
	return encode(OpSpeakingBatch, wrapEntries(SubOpSpeaking, batch))
}

func wrapEntries[T any](subOp int, batch map[domain.UserID]T) map[domain.UserID]batchEntry[T] {
	out := make(map[domain.UserID]batchEntry[T], len(batch))
	for recipient, payload := range batch {
		out[recipient] = batchEntry[T]{Op: subOp, D: payload}
	}
	return out
}
