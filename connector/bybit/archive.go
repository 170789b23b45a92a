package bybit

import (
	"archive/zip"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"

	"github.com/tickwork/tickwork/connector"
	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

// scanBufferSize bounds a single archive line. Order book snapshots for
// deep books can run to hundreds of kilobytes of NDJSON.
const scanBufferSize = 4 * 1024 * 1024

// downloadInfo locates a daily archive through Bybit's download-list
// endpoint and returns the archive filename and fetch URL.
func (c *Connector) downloadInfo(ctx context.Context, symbol, product string, day time.Time) (filename, fileURL string, err error) {
	dayStr := market.FormatDay(day)

	query := url.Values{}
	query.Set("bizType", "contract")
	query.Set("interval", "daily")
	query.Set("periods", "")
	query.Set("productId", product)
	query.Set("symbols", symbol)
	query.Set("startDay", dayStr)
	query.Set("endDay", dayStr)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.downloadURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: download list returned %s", connector.ErrTransport, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", "", fmt.Errorf("%w: decode download list: %v", connector.ErrTransport, err)
	}

	entry, err := jmespath.Search("result.list[0]", data)
	if err != nil || entry == nil {
		return "", "", fmt.Errorf("%w: no archive listed for %s %s %s", connector.ErrTransport, symbol, product, dayStr)
	}
	fields, ok := entry.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("%w: malformed download list entry", connector.ErrTransport)
	}

	filename, _ = fields["filename"].(string)
	fileURL, _ = fields["url"].(string)
	if filename == "" || fileURL == "" {
		return "", "", fmt.Errorf("%w: download list entry missing filename or url", connector.ErrTransport)
	}
	return filename, fileURL, nil
}

// downloadDay fetches one day of trades or order book messages from the
// daily archive, reusing a cached copy when present.
func (c *Connector) downloadDay(ctx context.Context, info market.EventInfo, day time.Time) ([]market.Item, error) {
	product := productID(info.Type)

	filename, fileURL, err := c.downloadInfo(ctx, info.Symbol, product, day)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(c.cacheDir, product, info.Symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, filename)

	if _, err := os.Stat(path); err == nil {
		logger.Debug("Archive already cached", "path", path)
	} else {
		if err := c.fetchArchive(ctx, fileURL, path); err != nil {
			return nil, err
		}
	}

	// Trade archives are CSV with a header row; order book archives are
	// headerless NDJSON.
	skipHeader := info.Type == market.TypeTrade
	lines, err := linesFromArchive(path, skipHeader)
	if err != nil {
		return nil, err
	}

	items := make([]market.Item, 0, len(lines))
	for _, line := range lines {
		var item market.Item
		switch info.Type {
		case market.TypeTrade:
			item, err = parseTrade(line)
		default:
			item, err = parseOrderbook(line)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// fetchArchive downloads the archive to path, writing through a temp file
// so an interrupted download never poisons the cache.
func (c *Connector) fetchArchive(ctx context.Context, fileURL, path string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: archive download returned %s", connector.ErrTransport, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", connector.ErrTransport, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move archive into cache: %w", err)
	}

	logger.Debug("Archive downloaded", "url", fileURL, "path", path)
	return nil
}

// linesFromArchive extracts the text lines of a .zip or .gz archive.
// Zip archives must contain exactly one member. With skipHeader set the
// first line is dropped unless it starts with a digit, which means the
// archive has no header row that day.
func linesFromArchive(path string, skipHeader bool) ([]string, error) {
	switch {
	case strings.HasSuffix(path, ".zip"):
		return zipLines(path, skipHeader)
	case strings.HasSuffix(path, ".gz"):
		return gzipLines(path, skipHeader)
	default:
		return nil, fmt.Errorf("%w: unknown archive format %s", connector.ErrCorruptArchive, filepath.Ext(path))
	}
}

func zipLines(path string, skipHeader bool) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrCorruptArchive, err)
	}
	defer r.Close()

	if len(r.File) != 1 {
		return nil, fmt.Errorf("%w: zip has %d members, want 1", connector.ErrCorruptArchive, len(r.File))
	}

	f, err := r.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrCorruptArchive, err)
	}
	defer f.Close()

	return readLines(f, skipHeader)
}

func gzipLines(path string, skipHeader bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrCorruptArchive, err)
	}
	defer gz.Close()

	return readLines(gz, skipHeader)
}

func readLines(r io.Reader, skipHeader bool) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	var lines []string
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if skipHeader && (line == "" || line[0] < '0' || line[0] > '9') {
				continue
			}
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrCorruptArchive, err)
	}
	return lines, nil
}
