// Package control speaks the opcoded JSON protocol of the central server:
// {"op": "<OPCODE>", "d": {...}} frames over one websocket.
package control

import (
	"time"

	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

type Op string

const (
	OpIdentify       Op = "IDENTIFY"
	OpAlright        Op = "ALRIGHT"
	OpHeartbeatInfo  Op = "HEARTBEAT_INFO"
	OpHeartbeat      Op = "HEARTBEAT"
	OpClientIdentify Op = "CLIENT_IDENTIFY"
	OpClientClose    Op = "CLIENT_CLOSE"
	OpOffer          Op = "OFFER"
	OpAnswer         Op = "ANSWER"
	OpClientSpeaking Op = "CLIENT_SPEAKING"
	OpVideo          Op = "VIDEO"
	OpVideoBatch     Op = "VIDEO_BATCH"
	OpSpeakingBatch  Op = "SPEAKING_BATCH"
)

// Sub-opcodes of batch entries, as forwarded to clients.
const (
	SubOpSpeaking = 5
	SubOpVideo    = 12
)

// Event is an inbound message. The set is closed: only this package
// implements it.
type Event interface {
	op() Op
}

type Alright struct {
	Location int `json:"location"`
}

type HeartbeatInfo struct {
	// milliseconds
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type ClientIdentify struct {
	UserID    domain.UserID `json:"user_id"`
	RoomID    domain.RoomID `json:"room_id"`
	IPAddress string        `json:"ip_address"`
	SSRC      uint32        `json:"ssrc"`
}

type ClientClose struct {
	UserID domain.UserID `json:"user_id"`
}

type Offer struct {
	UserID          domain.UserID      `json:"user_id"`
	RoomID          domain.RoomID      `json:"room_id"`
	IPAddress       string             `json:"ip_address"`
	SDP             string             `json:"sdp"`
	Codecs          []core.ClientCodec `json:"codecs"`
	ClientBuild     string             `json:"client_build"`
	ClientBuildDate time.Time          `json:"-"`
}

type ClientSpeaking struct {
	UserID    domain.UserID `json:"user_id"`
	RoomID    domain.RoomID `json:"room_id"`
	IPAddress string        `json:"ip_address"`
	Speaking  bool          `json:"speaking"`
	AudioSSRC uint32        `json:"audio_ssrc"`
}

// Video announces the SSRCs a client produces. Zero means not producing.
type Video struct {
	UserID domain.UserID `json:"user_id"`
	domain.StreamSSRCs
}

func (Alright) op() Op        { return OpAlright }
func (HeartbeatInfo) op() Op  { return OpHeartbeatInfo }
func (ClientIdentify) op() Op { return OpClientIdentify }
func (ClientClose) op() Op    { return OpClientClose }
func (Offer) op() Op          { return OpOffer }
func (ClientSpeaking) op() Op { return OpClientSpeaking }
func (Video) op() Op          { return OpVideo }

type envelope struct {
	Op Op  `json:"op"`
	D  any `json:"d"`
}

type identifyPayload struct {
	PublicIP   string `json:"public_ip"`
	PublicPort int    `json:"public_port"`
	Timestamp  int64  `json:"timestamp"`
}

type batchEntry[T any] struct {
	Op int `json:"op"`
	D  T   `json:"d"`
}
