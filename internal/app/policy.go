package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	Reconnect
)

// Policy decides what to do when the upstream send queue is full.
type Policy interface {
	OnBackPressure(op string) BackpressureAction
}

// SimplePolicy drops heartbeats and speaking batches and reconnects for
// everything else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(op string) BackpressureAction {
	switch op {
	case "HEARTBEAT", "SPEAKING_BATCH":
		return DropFrame
	default:
		return Reconnect
	}
}
