package bybit

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwork/tickwork/connector"
	"github.com/tickwork/tickwork/market"
)

func TestConvertPeriod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		period  int
		want    string
		wantErr bool
	}{
		{period: 1, want: "1"},
		{period: 3, want: "3"},
		{period: 5, want: "5"},
		{period: 15, want: "15"},
		{period: 30, want: "30"},
		{period: 60, want: "60"},
		{period: 120, want: "120"},
		{period: 240, want: "240"},
		{period: 360, want: "360"},
		{period: 720, want: "720"},
		{period: 1440, want: "D"},
		{period: 10080, want: "W"},
		{period: 43200, want: "M"},
		{period: 2, wantErr: true},
		{period: 7, wantErr: true},
		{period: 0, wantErr: true},
		{period: -60, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.period), func(t *testing.T) {
			t.Parallel()
			got, err := convertPeriod(tt.period)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedPeriod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanBatchDownload(t *testing.T) {
	t.Parallel()

	c := New()
	assert.True(t, c.CanBatchDownload(market.TypeKline))
	assert.False(t, c.CanBatchDownload(market.TypeTrade))
	assert.False(t, c.CanBatchDownload(market.TypeOrderbook))
	assert.False(t, c.CanBatchDownload(market.TypeTick))
}

func TestParseTrade(t *testing.T) {
	t.Parallel()

	line := "1696118400.123,BTCUSDT,Buy,0.5,27000.5,PlusTick,abc-123,13500.25,0.5,13500.25"
	trade, err := parseTrade(line)
	require.NoError(t, err)

	assert.InDelta(t, 1696118400123.0, trade.Time(), 0.001, "seconds normalize to milliseconds")
	assert.True(t, trade.IsBuy)
	assert.Equal(t, 0.5, trade.Size)
	assert.Equal(t, 27000.5, trade.Price)
	assert.Equal(t, "abc-123", trade.TradeID)

	sell, err := parseTrade("1696118401.5,BTCUSDT,Sell,1,27001,MinusTick,def-456")
	require.NoError(t, err)
	assert.False(t, sell.IsBuy)
}

func TestParseTradeRoundTrip(t *testing.T) {
	t.Parallel()

	trades := []market.Trade{
		{Meta: market.Meta{Timestamp: 1696118400125}, IsBuy: true, Size: 0.25, Price: 27000.5, TradeID: "t-1"},
		{Meta: market.Meta{Timestamp: 1696118401000}, IsBuy: false, Size: 3, Price: 26999.75, TradeID: "t-2"},
		{Meta: market.Meta{Timestamp: 1700000000001}, IsBuy: true, Size: 0.001, Price: 42123.125, TradeID: "t-3"},
	}
	for _, want := range trades {
		line := tradeCSV("BTCUSDT", want)
		got, err := parseTrade(line)
		require.NoError(t, err, line)

		assert.InDelta(t, want.Time(), got.Time(), 0.001)
		assert.Equal(t, want.IsBuy, got.IsBuy)
		assert.Equal(t, want.Size, got.Size)
		assert.Equal(t, want.Price, got.Price)
		assert.Equal(t, want.TradeID, got.TradeID)
	}
}

// tradeCSV renders a trade in the archive's CSV column layout.
func tradeCSV(symbol string, tr market.Trade) string {
	side := "Sell"
	if tr.IsBuy {
		side = "Buy"
	}
	return fmt.Sprintf("%s,%s,%s,%s,%s,ZeroPlusTick,%s",
		strconv.FormatFloat(tr.Time()/1000, 'f', -1, 64),
		symbol, side,
		strconv.FormatFloat(tr.Size, 'f', -1, 64),
		strconv.FormatFloat(tr.Price, 'f', -1, 64),
		tr.TradeID)
}

func TestParseTradeRejectsShortLine(t *testing.T) {
	t.Parallel()

	_, err := parseTrade("1696118400,BTCUSDT,Buy")
	require.ErrorIs(t, err, connector.ErrCorruptArchive)
}

func TestParseOrderbook(t *testing.T) {
	t.Parallel()

	line := `{"cts":1696118400500,"type":"snapshot","data":{"a":[["27001.5","2.5"],["27002","1"]],"b":[["27000","3"]]}}`
	book, err := parseOrderbook(line)
	require.NoError(t, err)

	assert.Equal(t, market.BookSnapshot, book.Kind)
	assert.Equal(t, 1696118400500.0, book.Time())
	require.Len(t, book.Asks, 2)
	assert.Equal(t, market.PriceVolume{Price: 27001.5, Volume: 2.5}, book.Asks[0])
	require.Len(t, book.Bids, 1)
	assert.Equal(t, market.PriceVolume{Price: 27000, Volume: 3}, book.Bids[0])

	delta, err := parseOrderbook(`{"cts":1696118401000,"type":"delta","data":{"a":[],"b":[["27000","0"]]}}`)
	require.NoError(t, err)
	assert.Equal(t, market.BookDelta, delta.Kind)
	assert.Empty(t, delta.Asks)

	_, err = parseOrderbook(`{"cts":1,"type":"mystery","data":{"a":[],"b":[]}}`)
	require.ErrorIs(t, err, connector.ErrCorruptArchive)
}

func TestReadLinesHeaderHeuristic(t *testing.T) {
	t.Parallel()

	const body = "timestamp,symbol,side\n1.0,BTCUSDT,Buy\n2.0,BTCUSDT,Sell\n"
	lines, err := readLines(strings.NewReader(body), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0,BTCUSDT,Buy", "2.0,BTCUSDT,Sell"}, lines)

	// No header that day: the first line is data and must survive.
	headerless := "1.0,BTCUSDT,Buy\n2.0,BTCUSDT,Sell\n"
	lines, err = readLines(strings.NewReader(headerless), true)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	lines, err = readLines(strings.NewReader(body), false)
	require.NoError(t, err)
	assert.Len(t, lines, 3)
}

// archiveServer serves a download-list endpoint plus the archive it points
// at, counting hits on each.
type archiveServer struct {
	*httptest.Server
	listHits    int
	archiveHits int
}

func newArchiveServer(t *testing.T, filename string, content []byte) *archiveServer {
	t.Helper()

	as := &archiveServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/download/list-files", func(w http.ResponseWriter, r *http.Request) {
		as.listHits++
		assert.Equal(t, "contract", r.URL.Query().Get("bizType"))
		assert.Equal(t, "daily", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.URL.Query().Get("symbols"))
		assert.Equal(t, r.URL.Query().Get("startDay"), r.URL.Query().Get("endDay"))

		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"list": []map[string]any{
					{"filename": filename, "url": as.URL + "/archives/" + filename},
				},
			},
		})
	})
	mux.HandleFunc("/archives/", func(w http.ResponseWriter, _ *http.Request) {
		as.archiveHits++
		w.Write(content)
	})

	as.Server = httptest.NewServer(mux)
	t.Cleanup(as.Close)
	return as
}

func gzipBytes(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestGetDayTrades(t *testing.T) {
	t.Parallel()

	const csv = "timestamp,symbol,side,size,price,tickDirection,trdMatchID\n" +
		"1696118400,BTCUSDT,Buy,0.5,27000.5,PlusTick,t1\n" +
		"1696118401,BTCUSDT,Sell,0.25,27000,MinusTick,t2\n"
	server := newArchiveServer(t, "BTCUSDT2023-10-01.csv.gz", gzipBytes(t, csv))

	c := New(
		WithDownloadURL(server.URL+"/download/list-files"),
		WithCacheDir(t.TempDir()),
	)

	day := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	items, err := c.GetDay(context.Background(), market.Trades("BTCUSDT"), day)
	require.NoError(t, err)

	require.Len(t, items, 2)
	first, ok := items[0].(market.Trade)
	require.True(t, ok)
	assert.Equal(t, "t1", first.TradeID)
	assert.InDelta(t, 1696118400000.0, first.Time(), 0.001)
}

func TestGetDayReusesCachedArchive(t *testing.T) {
	t.Parallel()

	const csv = "timestamp,symbol,side,size,price,tickDirection,trdMatchID\n" +
		"1696118400,BTCUSDT,Buy,0.5,27000.5,PlusTick,t1\n"
	server := newArchiveServer(t, "BTCUSDT2023-10-01.csv.gz", gzipBytes(t, csv))

	c := New(
		WithDownloadURL(server.URL+"/download/list-files"),
		WithCacheDir(t.TempDir()),
	)

	day := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := c.GetDay(ctx, market.Trades("BTCUSDT"), day)
	require.NoError(t, err)
	_, err = c.GetDay(ctx, market.Trades("BTCUSDT"), day)
	require.NoError(t, err)

	assert.Equal(t, 2, server.listHits, "archive lookup happens per call")
	assert.Equal(t, 1, server.archiveHits, "archive body downloads once")
}

func TestGetDayOrderbookZip(t *testing.T) {
	t.Parallel()

	const ndjson = `{"cts":1696118400500,"type":"snapshot","data":{"a":[["27001","1"]],"b":[["27000","2"]]}}` + "\n" +
		`{"cts":1696118401000,"type":"delta","data":{"a":[["27001","0"]],"b":[]}}` + "\n"
	content := zipBytes(t, map[string]string{"2023-10-01_BTCUSDT_ob500.data": ndjson})
	server := newArchiveServer(t, "2023-10-01_BTCUSDT_ob500.data.zip", content)

	c := New(
		WithDownloadURL(server.URL+"/download/list-files"),
		WithCacheDir(t.TempDir()),
	)

	day := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	items, err := c.GetDay(context.Background(), market.Book("BTCUSDT"), day)
	require.NoError(t, err)

	require.Len(t, items, 2)
	snap, ok := items[0].(market.Orderbook)
	require.True(t, ok)
	assert.Equal(t, market.BookSnapshot, snap.Kind)
	book, ok := items[1].(market.Orderbook)
	require.True(t, ok)
	assert.Equal(t, market.BookDelta, book.Kind)
}

func TestGetDayRejectsMultiMemberZip(t *testing.T) {
	t.Parallel()

	content := zipBytes(t, map[string]string{"a.data": "{}", "b.data": "{}"})
	server := newArchiveServer(t, "broken.zip", content)

	c := New(
		WithDownloadURL(server.URL+"/download/list-files"),
		WithCacheDir(t.TempDir()),
	)

	day := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.GetDay(context.Background(), market.Book("BTCUSDT"), day)
	require.ErrorIs(t, err, connector.ErrCorruptArchive)
}

func TestGetDayUnsupportedType(t *testing.T) {
	t.Parallel()

	c := New()
	day := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.GetDay(context.Background(), market.Kline("BTCUSDT", 1), day)
	require.ErrorIs(t, err, connector.ErrNotImplemented)
}

func TestGetDaysRejectsNonKline(t *testing.T) {
	t.Parallel()

	c := New()
	interval := market.NewInterval(
		time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC),
	)
	_, err := c.GetDays(context.Background(), market.Trades("BTCUSDT"), interval)
	require.ErrorIs(t, err, connector.ErrNotImplemented)
}

// klineRow renders a response row for a one-minute candle opening at
// openMs.
func klineRow(openMs int64, close float64) []string {
	return []string{
		strconv.FormatInt(openMs, 10),
		fmt.Sprintf("%.1f", close-1),
		fmt.Sprintf("%.1f", close+1),
		fmt.Sprintf("%.1f", close-2),
		fmt.Sprintf("%.1f", close),
		"10",
		"270000",
	}
}

func TestKlinesPagesBackwards(t *testing.T) {
	t.Parallel()

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1", r.URL.Query().Get("interval"))

		end, err := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
		require.NoError(t, err)

		// Newest first, page size capped at two. The second page repeats
		// the candle at 60000 to mimic boundary overlap.
		var rows [][]string
		switch {
		case end >= 120_000:
			rows = [][]string{klineRow(120_000, 27002), klineRow(60_000, 27001)}
		case end >= 0:
			rows = [][]string{klineRow(60_000, 27001), klineRow(0, 27000)}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"retCode": 0,
			"retMsg":  "OK",
			"result":  map[string]any{"list": rows},
		})
	}))
	t.Cleanup(server.Close)

	c := New(WithRestURL(server.URL))
	items, err := c.klines(context.Background(), "BTCUSDT", 1, 0, 179_999)
	require.NoError(t, err)

	require.Len(t, items, 3, "overlapping candle deduplicated by open time")
	assert.Equal(t, 2, requests)

	for i, item := range items {
		candle, ok := item.(market.OHLC)
		require.True(t, ok)
		open := float64(i) * 60_000
		assert.Equal(t, open, candle.Start)
		assert.Equal(t, open+60_000, candle.Time(), "candle timestamp is close time")
		assert.Equal(t, 10.0, candle.Volume)
	}
}

func TestKlinesEmptyVolumeDefaultsToZero(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		end, err := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
		require.NoError(t, err)

		var rows [][]string
		if end >= 60_000 {
			rows = [][]string{{"0", "1.0", "2.0", "0.5", "1.5", "", ""}}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"retCode": 0,
			"result":  map[string]any{"list": rows},
		})
	}))
	t.Cleanup(server.Close)

	c := New(WithRestURL(server.URL))
	items, err := c.klines(context.Background(), "BTCUSDT", 1, 0, 60_000)
	require.NoError(t, err)

	require.Len(t, items, 1)
	candle := items[0].(market.OHLC)
	assert.Zero(t, candle.Volume)
	assert.Zero(t, candle.Turnover)
	assert.Equal(t, 1.5, candle.Close)
}

func TestKlinesSurfacesAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"retCode": 10001,
			"retMsg":  "params error",
		})
	}))
	t.Cleanup(server.Close)

	c := New(WithRestURL(server.URL))
	_, err := c.klines(context.Background(), "BTCUSDT", 1, 0, 60_000)
	require.ErrorIs(t, err, connector.ErrTransport)
	assert.Contains(t, err.Error(), "10001")
}

func TestKlinesRejectsUnsupportedPeriod(t *testing.T) {
	t.Parallel()

	c := New()
	_, err := c.klines(context.Background(), "BTCUSDT", 2, 0, 60_000)
	require.ErrorIs(t, err, ErrUnsupportedPeriod)
}
