package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tickwork/tickwork/connector"
	"github.com/tickwork/tickwork/market"
)

// parseTrade converts one archive CSV line into a Trade. The layout is
// timestamp,symbol,side,size,price,tickDirection,tradeID,... with the
// timestamp in epoch seconds; the runtime works in milliseconds.
func parseTrade(line string) (market.Trade, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return market.Trade{}, fmt.Errorf("%w: trade line has %d fields", connector.ErrCorruptArchive, len(fields))
	}

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("%w: trade timestamp %q: %v", connector.ErrCorruptArchive, fields[0], err)
	}
	size, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("%w: trade size %q: %v", connector.ErrCorruptArchive, fields[3], err)
	}
	price, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("%w: trade price %q: %v", connector.ErrCorruptArchive, fields[4], err)
	}

	return market.Trade{
		Meta:    market.Meta{Timestamp: ts * 1000},
		IsBuy:   len(fields[2]) > 0 && fields[2][0] == 'B',
		Size:    size,
		Price:   price,
		TradeID: fields[6],
	}, nil
}

// orderbookLine is one NDJSON message from an order book archive. Level
// entries are [price, volume] pairs; Bybit encodes them as strings.
type orderbookLine struct {
	Cts  float64 `json:"cts"`
	Type string  `json:"type"`
	Data struct {
		A [][]any `json:"a"`
		B [][]any `json:"b"`
	} `json:"data"`
}

// parseOrderbook converts one archive NDJSON line into an Orderbook
// snapshot or delta. The cts field is already epoch milliseconds.
func parseOrderbook(line string) (market.Orderbook, error) {
	var msg orderbookLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return market.Orderbook{}, fmt.Errorf("%w: orderbook line: %v", connector.ErrCorruptArchive, err)
	}

	kind, err := market.ParseBookKind(msg.Type)
	if err != nil {
		return market.Orderbook{}, fmt.Errorf("%w: %v", connector.ErrCorruptArchive, err)
	}

	asks, err := parseLevels(msg.Data.A)
	if err != nil {
		return market.Orderbook{}, err
	}
	bids, err := parseLevels(msg.Data.B)
	if err != nil {
		return market.Orderbook{}, err
	}

	return market.Orderbook{
		Meta: market.Meta{Timestamp: msg.Cts},
		Kind: kind,
		Asks: asks,
		Bids: bids,
	}, nil
}

func parseLevels(raw [][]any) ([]market.PriceVolume, error) {
	levels := make([]market.PriceVolume, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: book level has %d values", connector.ErrCorruptArchive, len(pair))
		}
		price, err := toFloat(pair[0])
		if err != nil {
			return nil, fmt.Errorf("%w: book price: %v", connector.ErrCorruptArchive, err)
		}
		volume, err := toFloat(pair[1])
		if err != nil {
			return nil, fmt.Errorf("%w: book volume: %v", connector.ErrCorruptArchive, err)
		}
		levels = append(levels, market.PriceVolume{Price: price, Volume: volume})
	}
	return levels, nil
}

// toFloat accepts the two encodings Bybit uses for numbers in archives.
func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("unexpected number type %T", v)
	}
}
