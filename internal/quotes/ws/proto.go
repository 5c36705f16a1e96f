package ws

import "tickwire.com/internal/quotes/model"

type ClientMsg struct {
	Type   string   `json:"type"`   // "sub" | "unsub"
	Topics []string `json:"topics"` // quote:BTCUSD ...
}

type ServerMsg struct {
	Type  string      `json:"type"`  // "quote"
	Topic string      `json:"topic"` // quote:BTCUSD
	Quote model.Quote `json:"quote"`
}
