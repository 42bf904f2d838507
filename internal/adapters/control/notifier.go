package control

import (
	"context"

	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

var _ core.Notifier = (*Client)(nil)

func (c *Client) SendAnswer(_ context.Context, msg core.AnswerMessage) error {
	frame, err := EncodeAnswer(msg)
	if err != nil {
		return err
	}
	return c.send(OpAnswer, frame)
}

func (c *Client) SendVideoBatch(_ context.Context, batch map[domain.UserID]core.VideoUpdate) error {
	frame, err := EncodeVideoBatch(batch)
	if err != nil {
		return err
	}
	return c.send(OpVideoBatch, frame)
}

func (c *Client) SendSpeakingBatch(_ context.Context, batch map[domain.UserID]core.SpeakingUpdate) error {
	frame, err := EncodeSpeakingBatch(batch)
	if err != nil {
		return err
	}
	return c.send(OpSpeakingBatch, frame)
}
