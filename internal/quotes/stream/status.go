package stream

import (
	"time"

	"github.com/shopspring/decimal"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Quality 按 ping/pong 往返时延分档；没有完成过一次有效往返之前是 Unknown
type Quality int32

const (
	QualityUnknown Quality = iota
	QualityExcellent
	QualityGood
	QualityFair
	QualityPoor
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

func (q Quality) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

func ClassifyLatency(rtt time.Duration) Quality {
	switch {
	case rtt < 100*time.Millisecond:
		return QualityExcellent
	case rtt < 300*time.Millisecond:
		return QualityGood
	case rtt < time.Second:
		return QualityFair
	default:
		return QualityPoor
	}
}

// HealthSample 只在事件循环里修改
type HealthSample struct {
	LastActivityAt        time.Time `json:"last_activity_at"`
	LastPingSentAt        time.Time `json:"last_ping_sent_at"`
	LastPongReceivedAt    time.Time `json:"last_pong_received_at"`
	ConsecutivePongMisses int       `json:"consecutive_pong_misses"`
}

// ReconnectState 成功 Open 后归零
type ReconnectState struct {
	Attempt        uint          `json:"attempt"`
	CurrentBackoff time.Duration `json:"current_backoff"`
	ScheduledAt    time.Time     `json:"scheduled_at"`
	// Rejections 连续订阅被拒次数，Open 不清零；订阅确认、Reset、Resume 时清零
	Rejections uint `json:"rejections"`
}

type SubscriptionInfo struct {
	Symbol         string `json:"symbol"`
	ProviderSymbol string `json:"provider_symbol"`
	ChannelID      *int64 `json:"channel_id"`
}

// Status 对外只读快照
type Status struct {
	Provider      string             `json:"provider"`
	State         State              `json:"state"`
	Quality       Quality            `json:"quality"`
	Latency       time.Duration      `json:"latency"`
	ErrorCount    uint64             `json:"error_count"`
	LastError     string             `json:"last_error,omitempty"`
	Health        HealthSample       `json:"health"`
	Reconnect     ReconnectState     `json:"reconnect"`
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

type EventKind uint8

const (
	EventTick EventKind = iota + 1
	EventSubscribed
	EventError
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventSubscribed:
		return "subscribed"
	case EventError:
		return "error"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// Event 由事件循环同步回调给 Handler，Handler 不能阻塞
type Event struct {
	Kind     EventKind
	Provider string
	Symbol   string // 逻辑标的
	Price    decimal.Decimal
	At       time.Time
	State    State
	Err      error
}

type Handler func(Event)
