package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataTypeString(t *testing.T) {
	tests := []struct {
		dt   DataType
		want string
	}{
		{TypeTick, "TICK"},
		{TypeTrade, "TRADE"},
		{TypeOrderbook, "ORDERBOOK"},
		{TypeKline, "KLINE"},
		{DataType(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.dt.String())
	}
}

func TestParseBookKind(t *testing.T) {
	kind, err := ParseBookKind("snapshot")
	require.NoError(t, err)
	assert.Equal(t, BookSnapshot, kind)

	kind, err = ParseBookKind("DELTA")
	require.NoError(t, err)
	assert.Equal(t, BookDelta, kind)

	_, err = ParseBookKind("increment")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEventInfoString(t *testing.T) {
	assert.Equal(t, "BTCUSDT:KLINE:15", Kline("BTCUSDT", 15).String())
	assert.Equal(t, "SOLUSDT:TRADE", Trades("SOLUSDT").String())
	assert.Equal(t, "ETHUSDT:ORDERBOOK", Book("ETHUSDT").String())
}

func TestEventInfoAsMapKey(t *testing.T) {
	m := map[EventInfo]int{}
	m[Kline("BTCUSDT", 15)] = 1
	m[Kline("BTCUSDT", 60)] = 2
	m[Trades("BTCUSDT")] = 3

	assert.Len(t, m, 3)
	assert.Equal(t, 1, m[Kline("BTCUSDT", 15)])
	assert.Equal(t, 3, m[EventInfo{Symbol: "BTCUSDT", Type: TypeTrade}])
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"stream only", Request{Info: Trades("BTCUSDT"), Stream: true}, false},
		{"preload only", Request{Info: Trades("BTCUSDT"), Preload: 3600000000000}, false},
		{"both", Request{Info: Trades("BTCUSDT"), Preload: 1, Stream: true}, false},
		{"neither", Request{Info: Trades("BTCUSDT")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEmptyRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewOrderAssignsID(t *testing.T) {
	a := NewOrder(1000, 7, nil)
	b := NewOrder(1000, 7, nil)

	require.NotEmpty(t, a.ID)
	require.NotEmpty(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, float64(1000), a.Time())
	assert.Equal(t, int64(7), a.ProducerID())
}

func TestNewEventMirrorsPayloadTime(t *testing.T) {
	trade := Trade{Meta: Meta{Timestamp: 123456}, Price: 10, Size: 1}
	ev := NewEvent(Trades("BTCUSDT"), trade, 42)

	assert.Equal(t, trade.Time(), ev.Time())
	assert.Equal(t, int64(42), ev.ProducerID())
	assert.Equal(t, TypeTrade, ev.Info.Type)
}

func TestNextProducerIDIsUnique(t *testing.T) {
	a := NextProducerID()
	b := NextProducerID()
	assert.NotEqual(t, a, b)
}
