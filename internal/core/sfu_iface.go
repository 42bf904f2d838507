package core

import (
	"context"
	"time"

	"github.com/dkeye/mediarelay/internal/domain"
)

// Participant is the SFU-side handle of one room member.
type Participant interface {
	UserID() domain.UserID
	RoomID() domain.RoomID

	SetIncomingStreams(domain.StreamSSRCs)
	IncomingStreams() domain.StreamSSRCs
	IsProducing(kind domain.TrackKind) bool
	IsSubscribed(producer domain.UserID, kind domain.TrackKind) bool

	// Publish starts producing kind with the given incoming SSRCs.
	Publish(ctx context.Context, kind domain.TrackKind, ssrcs domain.StreamSSRCs) error
	// Unpublish stops producing kind and drops every consumer of it.
	Unpublish(kind domain.TrackKind) error
	// Subscribe makes this participant consume producer's kind. Idempotent.
	Subscribe(ctx context.Context, producer domain.UserID, kind domain.TrackKind) error
	// OutgoingView resolves what this participant receives from producer.
	OutgoingView(producer domain.UserID) domain.SubscriptionView
}

// ClientCodec is one codec entry advertised by a client in its offer.
type ClientCodec struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Priority       int    `json:"priority"`
	PayloadType    int    `json:"payload_type"`
	RTXPayloadType int    `json:"rtx_payload_type"`
}

type OfferRequest struct {
	ClientBuild     string
	ClientBuildDate time.Time
	Participant     Participant
	SDP             string
	Codecs          []ClientCodec
}

type Answer struct {
	SDP        string
	VideoCodec string
}

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	ID           domain.RoomID `json:"id"`
	Channel      string        `json:"channel"`
	Participants int           `json:"participants"`
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID        domain.UserID      `json:"id"`
	Incoming  domain.StreamSSRCs `json:"incoming"`
	Producing []domain.TrackKind `json:"producing"`
}

// SFU is the media engine the relay drives. Room membership is owned here.
type SFU interface {
	Join(ctx context.Context, room domain.RoomID, user domain.UserID, channel string) (Participant, error)
	Leave(user domain.UserID)
	RoomMembers(room domain.RoomID) []Participant
	// Audience lists every participant receiving relay traffic for room.
	Audience(room domain.RoomID) []Participant
	AnswerOffer(ctx context.Context, req OfferRequest) (*Answer, error)

	Rooms() []RoomInfo
	MembersSnapshot(room domain.RoomID) []MemberDTO
}
