package stream

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindHeartbeat
	KindPong
	KindSystemStatus
	KindSubscriptionStatus
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindPong:
		return "pong"
	case KindSystemStatus:
		return "system_status"
	case KindSubscriptionStatus:
		return "subscription_status"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

var errNotJSON = errors.New("neither object nor array")

// Inbound 入站消息在解析边界一次性解成带标签的结构，后续只看 Kind
//
//	对象: {"event": "...", ...}
//	数组: [channelID, payload, channelName, pair]
type Inbound struct {
	Kind  Kind
	Event string

	ReqID  int64
	Status string // systemStatus: online/maintenance; subscriptionStatus: subscribed/unsubscribed/error

	ChannelID    int64
	HasChannel   bool
	ChannelName  string
	Pair         string
	ErrorMessage string

	Payload json.RawMessage
}

type eventEnvelope struct {
	Event        string `json:"event"`
	ReqID        int64  `json:"reqid"`
	Status       string `json:"status"`
	ChannelID    *int64 `json:"channelID"`
	ChannelName  string `json:"channelName"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

// Decode 返回 error 表示完全解析不了（不算活跃）；形状能解析但不认识的返回 KindUnknown
func Decode(b []byte) (Inbound, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return Inbound{}, errNotJSON
	}
	switch b[0] {
	case '{':
		return decodeEvent(b)
	case '[':
		return decodeData(b)
	default:
		return Inbound{}, errNotJSON
	}
}

func decodeEvent(b []byte) (Inbound, error) {
	var env eventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Inbound{}, err
	}
	in := Inbound{
		Event:        env.Event,
		ReqID:        env.ReqID,
		Status:       env.Status,
		Pair:         env.Pair,
		ChannelName:  env.ChannelName,
		ErrorMessage: env.ErrorMessage,
	}
	if in.ChannelName == "" {
		in.ChannelName = env.Subscription.Name
	}
	if env.ChannelID != nil {
		in.ChannelID, in.HasChannel = *env.ChannelID, true
	}
	switch env.Event {
	case "heartbeat":
		in.Kind = KindHeartbeat
	case "pong":
		in.Kind = KindPong
	case "systemStatus":
		in.Kind = KindSystemStatus
	case "subscriptionStatus":
		in.Kind = KindSubscriptionStatus
	default:
		in.Kind = KindUnknown
	}
	return in, nil
}

func decodeData(b []byte) (Inbound, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return Inbound{}, err
	}
	if len(arr) < 4 {
		return Inbound{Kind: KindUnknown}, nil
	}
	in := Inbound{Kind: KindData, Payload: arr[1]}
	if json.Unmarshal(arr[0], &in.ChannelID) == nil {
		in.HasChannel = true
	}
	// 有的频道 payload 会拆成两段，名字和交易对永远在最后两位
	if err := json.Unmarshal(arr[len(arr)-2], &in.ChannelName); err != nil {
		return Inbound{}, fmt.Errorf("channel name: %w", err)
	}
	if err := json.Unmarshal(arr[len(arr)-1], &in.Pair); err != nil {
		return Inbound{}, fmt.Errorf("pair: %w", err)
	}
	return in, nil
}

type tickerPayload struct {
	C []string `json:"c"` // [price, lotVolume]
}

// ParseTickerPrice 取 ticker payload 里的最新成交价
func ParseTickerPrice(payload []byte) (decimal.Decimal, error) {
	var p tickerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return decimal.Decimal{}, err
	}
	if len(p.C) == 0 {
		return decimal.Decimal{}, errors.New("ticker payload without close price")
	}
	return decimal.NewFromString(p.C[0])
}

type subscription struct {
	Name string `json:"name"`
}

type subscribeMsg struct {
	Event        string       `json:"event"`
	ReqID        int64        `json:"reqid,omitempty"`
	Pair         []string     `json:"pair"`
	Subscription subscription `json:"subscription"`
}

type pingMsg struct {
	Event string `json:"event"`
	ReqID int64  `json:"reqid"`
}

// EncodeSubscribe 一条消息订阅全部交易对
func EncodeSubscribe(reqID int64, channel string, pairs []string) ([]byte, error) {
	return json.Marshal(subscribeMsg{
		Event:        "subscribe",
		ReqID:        reqID,
		Pair:         pairs,
		Subscription: subscription{Name: channel},
	})
}

func EncodePing(reqID int64) ([]byte, error) {
	return json.Marshal(pingMsg{Event: "ping", ReqID: reqID})
}
