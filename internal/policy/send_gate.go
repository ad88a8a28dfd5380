package policy

import (
	"sync/atomic"

	"injest/telemetry-agent/internal/models"
)

// Decision is the outcome of a gate evaluation
type Decision int

const (
	Allow Decision = iota
	RejectDisabled
	RejectOffline
	RejectNotCharging
	RejectCategoryDisabled
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allowed"
	case RejectDisabled:
		return "sending disabled"
	case RejectOffline:
		return "collector unreachable"
	case RejectNotCharging:
		return "not charging"
	case RejectCategoryDisabled:
		return "category disabled"
	default:
		return "unknown"
	}
}

// Allowed reports whether the decision permits sending
func (d Decision) Allowed() bool {
	return d == Allow
}

// Settings are the initial gate flags
type Settings struct {
	SendDataEver        bool
	OnlySendWhenPlugged bool
	Categories          map[models.MessageType]bool
}

// SendGate decides whether telemetry may be sent at all. All flags are
// atomics so producers, heartbeat and power monitor can touch them freely.
type SendGate struct {
	sendDataEver        atomic.Bool
	connected           atomic.Bool
	onlySendWhenPlugged atomic.Bool
	plugged             atomic.Bool

	// keys are fixed at construction; only the values change
	categories map[models.MessageType]*atomic.Bool
}

// NewSendGate creates a gate. Connectivity starts as up until a heartbeat
// reports otherwise; a category missing from settings starts enabled.
func NewSendGate(settings Settings) *SendGate {
	g := &SendGate{
		categories: make(map[models.MessageType]*atomic.Bool, len(models.AllMessageTypes)),
	}
	g.sendDataEver.Store(settings.SendDataEver)
	g.onlySendWhenPlugged.Store(settings.OnlySendWhenPlugged)
	g.connected.Store(true)

	for _, t := range models.AllMessageTypes {
		flag := &atomic.Bool{}
		enabled, ok := settings.Categories[t]
		flag.Store(!ok || enabled)
		g.categories[t] = flag
	}
	return g
}

// Evaluate applies the shared policy: global flag, connectivity, then the
// charging-only rule. The first failing condition wins.
func (g *SendGate) Evaluate() Decision {
	if !g.sendDataEver.Load() {
		return RejectDisabled
	}
	if !g.connected.Load() {
		return RejectOffline
	}
	if g.onlySendWhenPlugged.Load() && !g.plugged.Load() {
		return RejectNotCharging
	}
	return Allow
}

// EvaluateCategory checks the producer's own flag before the shared policy
func (g *SendGate) EvaluateCategory(msgType models.MessageType) Decision {
	if !g.CategoryEnabled(msgType) {
		return RejectCategoryDisabled
	}
	return g.Evaluate()
}

// CategoryEnabled reports the per-category flag; unknown types are disabled
func (g *SendGate) CategoryEnabled(msgType models.MessageType) bool {
	flag, ok := g.categories[msgType]
	return ok && flag.Load()
}

// SetCategoryEnabled toggles a category; it returns false for unknown types
func (g *SendGate) SetCategoryEnabled(msgType models.MessageType, enabled bool) bool {
	flag, ok := g.categories[msgType]
	if !ok {
		return false
	}
	flag.Store(enabled)
	return true
}

func (g *SendGate) SetSendDataEver(v bool)        { g.sendDataEver.Store(v) }
func (g *SendGate) SetConnected(v bool)           { g.connected.Store(v) }
func (g *SendGate) SetOnlySendWhenPlugged(v bool) { g.onlySendWhenPlugged.Store(v) }
func (g *SendGate) SetPlugged(v bool)             { g.plugged.Store(v) }

// Snapshot is a point-in-time view of every flag
type Snapshot struct {
	SendDataEver        bool                        `json:"sendDataEver"`
	Connected           bool                        `json:"connected"`
	OnlySendWhenPlugged bool                        `json:"onlySendWhenPlugged"`
	Plugged             bool                        `json:"plugged"`
	Categories          map[models.MessageType]bool `json:"categories"`
}

// Snapshot returns the current flags
func (g *SendGate) Snapshot() Snapshot {
	s := Snapshot{
		SendDataEver:        g.sendDataEver.Load(),
		Connected:           g.connected.Load(),
		OnlySendWhenPlugged: g.onlySendWhenPlugged.Load(),
		Plugged:             g.plugged.Load(),
		Categories:          make(map[models.MessageType]bool, len(g.categories)),
	}
	for t, flag := range g.categories {
		s.Categories[t] = flag.Load()
	}
	return s
}
