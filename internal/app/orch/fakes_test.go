package orch

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

// fakeSFU keeps room membership in memory. Outgoing SSRCs mirror the
// producer's incoming ones.
type fakeSFU struct {
	mu        sync.Mutex
	rooms     map[domain.RoomID][]*fakeParticipant
	audience  map[domain.RoomID][]*fakeParticipant
	answer    *core.Answer
	answerErr error
}

func newFakeSFU() *fakeSFU {
	return &fakeSFU{
		rooms:    make(map[domain.RoomID][]*fakeParticipant),
		audience: make(map[domain.RoomID][]*fakeParticipant),
		answer:   &core.Answer{SDP: "v=0", VideoCodec: "VP8"},
	}
}

func (s *fakeSFU) Join(_ context.Context, room domain.RoomID, user domain.UserID, _ string) (core.Participant, error) {
	p := &fakeParticipant{
		ParticipantState: core.NewParticipantState(user, room),
		sfu:              s,
		subscribeErr:     make(map[domain.UserID]error),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = append(s.rooms[room], p)
	return p, nil
}

func (s *fakeSFU) Leave(user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room, members := range s.rooms {
		kept := members[:0]
		for _, m := range members {
			if m.UserID() != user {
				kept = append(kept, m)
			}
		}
		s.rooms[room] = kept
	}
}

func (s *fakeSFU) RoomMembers(room domain.RoomID) []core.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Participant, 0, len(s.rooms[room]))
	for _, m := range s.rooms[room] {
		out = append(out, m)
	}
	return out
}

func (s *fakeSFU) Audience(room domain.RoomID) []core.Participant {
	out := s.RoomMembers(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.audience[room] {
		out = append(out, m)
	}
	return out
}

func (s *fakeSFU) AnswerOffer(context.Context, core.OfferRequest) (*core.Answer, error) {
	return s.answer, s.answerErr
}

func (s *fakeSFU) Rooms() []core.RoomInfo                         { return nil }
func (s *fakeSFU) MembersSnapshot(domain.RoomID) []core.MemberDTO { return nil }

func (s *fakeSFU) find(user domain.UserID) *fakeParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, members := range s.rooms {
		for _, m := range members {
			if m.UserID() == user {
				return m
			}
		}
	}
	return nil
}

func (s *fakeSFU) dropConsumers(producer domain.UserID, kind domain.TrackKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, members := range s.rooms {
		for _, m := range members {
			m.RemoveSubscription(producer, kind)
		}
	}
}

// gatedSFU holds the first RoomMembers call until release is closed, which
// parks a pass in the middle of its fan-out.
type gatedSFU struct {
	*fakeSFU
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedSFU(s *fakeSFU) *gatedSFU {
	return &gatedSFU{fakeSFU: s, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSFU) RoomMembers(room domain.RoomID) []core.Participant {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeSFU.RoomMembers(room)
}

type fakeParticipant struct {
	*core.ParticipantState
	sfu *fakeSFU

	mu             sync.Mutex
	publishErr     error
	unpublishErr   error
	subscribeErr   map[domain.UserID]error
	subscribeCalls int
	publishCalls   int
	unpublishCalls int
}

func (p *fakeParticipant) IsSubscribed(producer domain.UserID, kind domain.TrackKind) bool {
	return p.SubscriptionsContain(producer, kind)
}

func (p *fakeParticipant) Publish(_ context.Context, kind domain.TrackKind, _ domain.StreamSSRCs) error {
	p.mu.Lock()
	p.publishCalls++
	err := p.publishErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.SetProducing(kind, true)
	return nil
}

func (p *fakeParticipant) Unpublish(kind domain.TrackKind) error {
	p.mu.Lock()
	p.unpublishCalls++
	err := p.unpublishErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.SetProducing(kind, false)
	p.sfu.dropConsumers(p.UserID(), kind)
	return nil
}

func (p *fakeParticipant) Subscribe(_ context.Context, producer domain.UserID, kind domain.TrackKind) error {
	p.mu.Lock()
	p.subscribeCalls++
	err := p.subscribeErr[producer]
	p.mu.Unlock()
	if err != nil {
		return err
	}
	q := p.sfu.find(producer)
	if q == nil || !q.IsProducing(kind) {
		return errors.Errorf("%s does not produce %s", producer, kind)
	}
	p.RecordSubscription(producer, kind)
	return nil
}

func (p *fakeParticipant) OutgoingView(producer domain.UserID) domain.SubscriptionView {
	q := p.sfu.find(producer)
	if q == nil {
		return domain.SubscriptionView{}
	}
	in := q.IncomingStreams()
	return p.ResolveOutgoingView(producer, func(sub core.Subscription) (uint32, uint32) {
		if sub.Kind == domain.TrackAudio {
			return in.Audio, 0
		}
		return in.Video, in.RTX
	})
}

func (p *fakeParticipant) subscribes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribeCalls
}

type recordingNotifier struct {
	mu       sync.Mutex
	answers  []core.AnswerMessage
	video    []map[domain.UserID]core.VideoUpdate
	speaking []map[domain.UserID]core.SpeakingUpdate
	// order of outbound messages, "video" or "speaking"
	sequence []string
}

func (n *recordingNotifier) SendAnswer(_ context.Context, msg core.AnswerMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.answers = append(n.answers, msg)
	return nil
}

func (n *recordingNotifier) SendVideoBatch(_ context.Context, batch map[domain.UserID]core.VideoUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.video = append(n.video, batch)
	n.sequence = append(n.sequence, "video")
	return nil
}

func (n *recordingNotifier) SendSpeakingBatch(_ context.Context, batch map[domain.UserID]core.SpeakingUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.speaking = append(n.speaking, batch)
	n.sequence = append(n.sequence, "speaking")
	return nil
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.answers, n.video, n.speaking, n.sequence = nil, nil, nil, nil
}

type harness struct {
	orch     *Orchestrator
	sfu      *fakeSFU
	notifier *recordingNotifier
	clock    *clock.Mock
}

func newHarness(opts Options) *harness {
	sfu := newFakeSFU()
	notifier := &recordingNotifier{}
	clk := clock.NewMock()
	throttle := app.NewSpeakingThrottle(0, clk)
	return &harness{
		orch:     New(app.NewRegistry(), sfu, notifier, throttle, opts),
		sfu:      sfu,
		notifier: notifier,
		clock:    clk,
	}
}

func (h *harness) participant(user domain.UserID) *fakeParticipant {
	return h.sfu.find(user)
}
