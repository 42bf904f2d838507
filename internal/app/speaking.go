package app

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/mediarelay/internal/domain"
)

const DefaultSpeakingThrottle = 150 * time.Millisecond

type speakingState struct {
	speaking   bool
	lastUpdate time.Time
}

// SpeakingThrottle debounces speaking toggles per participant. A toggle is
// accepted when its value differs from the last accepted one or when the
// window has elapsed since that acceptance.
type SpeakingThrottle struct {
	window time.Duration
	clock  clock.Clock

	mu     sync.Mutex
	states map[domain.UserID]*speakingState
}

func NewSpeakingThrottle(window time.Duration, clk clock.Clock) *SpeakingThrottle {
	if window <= 0 {
		window = DefaultSpeakingThrottle
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SpeakingThrottle{
		window: window,
		clock:  clk,
		states: make(map[domain.UserID]*speakingState),
	}
}

// Allow records the toggle and reports whether it was accepted.
func (t *SpeakingThrottle) Allow(user domain.UserID, speaking bool) bool {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[user]
	if !ok {
		// zero state: not speaking, never updated
		st = &speakingState{}
		t.states[user] = st
	}
	if st.speaking == speaking && now.Sub(st.lastUpdate) < t.window {
		return false
	}
	st.speaking = speaking
	st.lastUpdate = now
	return true
}

func (t *SpeakingThrottle) Forget(user domain.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, user)
}
