package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/tickwork/tickwork/connector"
	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

// klinePageLimit is the maximum candles per REST page allowed by Bybit.
const klinePageLimit = 1000

// ErrUnsupportedPeriod rejects candle periods Bybit's v5 API does not serve.
var ErrUnsupportedPeriod = errors.New("unsupported candle period")

// minutePeriods are the intraday periods the v5 kline endpoint accepts
// verbatim as minute counts.
var minutePeriods = map[int]bool{
	1: true, 3: true, 5: true, 15: true, 30: true,
	60: true, 120: true, 240: true, 360: true, 720: true,
}

// convertPeriod maps a period in minutes to Bybit's interval parameter.
func convertPeriod(period int) (string, error) {
	switch {
	case minutePeriods[period]:
		return strconv.Itoa(period), nil
	case period == 1440:
		return "D", nil
	case period == 10080:
		return "W", nil
	case period == 43200:
		return "M", nil
	default:
		return "", fmt.Errorf("%w: %d minutes", ErrUnsupportedPeriod, period)
	}
}

// klineResponse is the v5 market/kline envelope. Result.List rows are
// [openTimeMs, open, high, low, close, volume, turnover], newest first.
type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// klines fetches candles covering [startMs, endMs] by paging backwards from
// the end of the range. Each page returns the most recent candles before the
// current end cursor; the cursor moves to just before the oldest open time
// seen, so pages never overlap by more than the boundary candle, which is
// deduplicated by open time.
func (c *Connector) klines(ctx context.Context, symbol string, period int, startMs, endMs int64) ([]market.Item, error) {
	interval, err := convertPeriod(period)
	if err != nil {
		return nil, err
	}

	byOpen := make(map[int64]market.OHLC)
	for startMs <= endMs {
		page, err := c.klinePage(ctx, symbol, interval, startMs, endMs)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		oldest := int64(-1)
		for _, row := range page {
			candle, open, err := parseKlineRow(row, period)
			if err != nil {
				return nil, err
			}
			byOpen[open] = candle
			if oldest < 0 || open < oldest {
				oldest = open
			}
		}
		endMs = oldest - 1
	}

	items := make([]market.Item, 0, len(byOpen))
	for _, candle := range byOpen {
		items = append(items, candle)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Time() < items[j].Time()
	})
	return items, nil
}

// klinePage performs one rate-limited request against the kline endpoint.
func (c *Connector) klinePage(ctx context.Context, symbol, interval string, startMs, endMs int64) ([][]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("category", "linear")
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("start", strconv.FormatInt(startMs, 10))
	query.Set("end", strconv.FormatInt(endMs, 10))
	query.Set("limit", strconv.Itoa(klinePageLimit))

	endpoint := c.restURL + "/v5/market/kline?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: kline request returned %s", connector.ErrTransport, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}

	var parsed klineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode kline response: %v", connector.ErrTransport, err)
	}
	if parsed.RetCode != 0 {
		return nil, fmt.Errorf("%w: kline retCode %d: %s", connector.ErrTransport, parsed.RetCode, parsed.RetMsg)
	}

	logger.Debug("Fetched kline page",
		"symbol", symbol,
		"interval", interval,
		"rows", len(parsed.Result.List))
	return parsed.Result.List, nil
}

// parseKlineRow converts one response row into a candle. The candle
// timestamp is close time: open time plus the period. Volume and turnover
// may be empty strings on thin markets and default to zero.
func parseKlineRow(row []string, period int) (market.OHLC, int64, error) {
	if len(row) < 5 {
		return market.OHLC{}, 0, fmt.Errorf("%w: kline row has %d fields", connector.ErrTransport, len(row))
	}

	open, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return market.OHLC{}, 0, fmt.Errorf("%w: kline open time %q: %v", connector.ErrTransport, row[0], err)
	}

	fields := make([]float64, 4)
	for i, raw := range row[1:5] {
		fields[i], err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return market.OHLC{}, 0, fmt.Errorf("%w: kline field %q: %v", connector.ErrTransport, raw, err)
		}
	}

	candle := market.OHLC{
		Meta:  market.Meta{Timestamp: float64(open + int64(period)*60_000)},
		Start: float64(open),
		Open:  fields[0],
		High:  fields[1],
		Low:   fields[2],
		Close: fields[3],
	}
	if len(row) > 5 && row[5] != "" {
		if candle.Volume, err = strconv.ParseFloat(row[5], 64); err != nil {
			return market.OHLC{}, 0, fmt.Errorf("%w: kline volume %q: %v", connector.ErrTransport, row[5], err)
		}
	}
	if len(row) > 6 && row[6] != "" {
		if candle.Turnover, err = strconv.ParseFloat(row[6], 64); err != nil {
			return market.OHLC{}, 0, fmt.Errorf("%w: kline turnover %q: %v", connector.ErrTransport, row[6], err)
		}
	}
	return candle, open, nil
}
