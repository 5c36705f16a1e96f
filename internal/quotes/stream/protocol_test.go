package stream

import (
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Kind
		wantErr bool
		check   func(t *testing.T, in Inbound)
	}{
		{name: "heartbeat", raw: `{"event":"heartbeat"}`, want: KindHeartbeat},
		{name: "pong", raw: `{"event":"pong","reqid":42}`, want: KindPong, check: func(t *testing.T, in Inbound) {
			assert.Equal(t, int64(42), in.ReqID)
		}},
		{name: "maintenance", raw: `{"connectionID":1,"event":"systemStatus","status":"maintenance","version":"1.9.1"}`, want: KindSystemStatus,
			check: func(t *testing.T, in Inbound) { assert.Equal(t, "maintenance", in.Status) }},
		{name: "ack", raw: `{"channelID":1,"channelName":"ticker","event":"subscriptionStatus","pair":"XBT/USD","status":"subscribed","subscription":{"name":"ticker"}}`,
			want: KindSubscriptionStatus, check: func(t *testing.T, in Inbound) {
				assert.True(t, in.HasChannel)
				assert.Equal(t, int64(1), in.ChannelID)
				assert.Equal(t, "XBT/USD", in.Pair)
				assert.Equal(t, "subscribed", in.Status)
				assert.Equal(t, "ticker", in.ChannelName)
			}},
		{name: "ack error", raw: `{"errorMessage":"Currency pair not supported","event":"subscriptionStatus","pair":"XBT/EUR","status":"error","subscription":{"name":"ticker"}}`,
			want: KindSubscriptionStatus, check: func(t *testing.T, in Inbound) {
				assert.False(t, in.HasChannel)
				assert.Equal(t, "error", in.Status)
				assert.Equal(t, "Currency pair not supported", in.ErrorMessage)
			}},
		{name: "data", raw: `[1,{"c":["50000.1","0.01"]},"ticker","BTCUSD"]`, want: KindData, check: func(t *testing.T, in Inbound) {
			assert.True(t, in.HasChannel)
			assert.Equal(t, int64(1), in.ChannelID)
			assert.Equal(t, "ticker", in.ChannelName)
			assert.Equal(t, "BTCUSD", in.Pair)
			assert.JSONEq(t, `{"c":["50000.1","0.01"]}`, string(in.Payload))
		}},
		{name: "data with split payload", raw: `[7,{"a":[]},{"b":[]},"book-10","ETH/USD"]`, want: KindData, check: func(t *testing.T, in Inbound) {
			assert.Equal(t, "book-10", in.ChannelName)
			assert.Equal(t, "ETH/USD", in.Pair)
		}},
		{name: "unknown event", raw: `{"event":"somethingNew"}`, want: KindUnknown},
		{name: "object without event", raw: `{"hello":1}`, want: KindUnknown},
		{name: "short array", raw: `[1,2]`, want: KindUnknown},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "empty", raw: `  `, wantErr: true},
		{name: "truncated", raw: `{"event":`, wantErr: true},
		{name: "pair not a string", raw: `[1,{},"ticker",5]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Kind)
			if tt.check != nil {
				tt.check(t, in)
			}
		})
	}
}

func TestParseTickerPrice(t *testing.T) {
	p, err := ParseTickerPrice([]byte(`{"c":["50000.1"]}`))
	require.NoError(t, err)
	assert.Equal(t, "50000.1", p.String())

	_, err = ParseTickerPrice([]byte(`{"c":[]}`))
	assert.Error(t, err)
	_, err = ParseTickerPrice([]byte(`{"c":["abc"]}`))
	assert.Error(t, err)
	_, err = ParseTickerPrice([]byte(`{"c":[50000.1]}`))
	assert.Error(t, err)
}

func TestEncodeSubscribeIsOneBatch(t *testing.T) {
	b, err := EncodeSubscribe(3, "ticker", []string{"XBT/USD", "ETH/USD"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"subscribe","reqid":3,"pair":["XBT/USD","ETH/USD"],"subscription":{"name":"ticker"}}`, string(b))

	b, err = EncodePing(9)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "ping", m["event"])
	assert.Equal(t, float64(9), m["reqid"])
}

func TestClassifyLatency(t *testing.T) {
	assert.Equal(t, QualityExcellent, ClassifyLatency(99*time.Millisecond))
	assert.Equal(t, QualityGood, ClassifyLatency(100*time.Millisecond))
	assert.Equal(t, QualityGood, ClassifyLatency(299*time.Millisecond))
	assert.Equal(t, QualityFair, ClassifyLatency(300*time.Millisecond))
	assert.Equal(t, QualityPoor, ClassifyLatency(time.Second))
	assert.Equal(t, "unknown", QualityUnknown.String())
}
