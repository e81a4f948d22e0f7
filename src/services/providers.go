package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/utils"
)

// fileStatementProvider reads external statements from local JSON files laid
// out as <dir>/<accountID>/<yyyy-mm-dd>.json, each holding an array of
// external records. A missing file means an empty statement, not an error.
type fileStatementProvider struct {
	dir string
}

func NewFileStatementProvider(dir string) StatementProvider {
	return &fileStatementProvider{dir: dir}
}

func (p *fileStatementProvider) FetchRecords(ctx context.Context, accountID string, date time.Time) ([]models.ExternalRecord, error) {
	path := filepath.Join(p.dir, accountID, utils.FormatDate(date)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L.Debug("No statement file for account and date", "accountID", accountID, "path", path)
			return []models.ExternalRecord{}, nil
		}
		return nil, fmt.Errorf("error reading statement file %s: %w", path, err)
	}

	var records []models.ExternalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("error decoding statement file %s: %w", path, err)
	}
	return records, nil
}

// httpRateProvider pulls daily reference rates from a frankfurter-style feed:
// GET <url>?base=EUR&symbols=USD,GBP returning {"rates": {"USD": 1.08, ...}}.
type httpRateProvider struct {
	feedURL string
	client  *http.Client
}

func NewHTTPRateProvider(feedURL string) RateProvider {
	return &httpRateProvider{
		feedURL: feedURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *httpRateProvider) FetchRates(ctx context.Context, base string, symbols []string) ([]RateQuote, error) {
	reqURL, err := url.Parse(p.feedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid rate feed URL %q: %w", p.feedURL, err)
	}
	query := reqURL.Query()
	query.Set("base", base)
	query.Set("symbols", strings.Join(symbols, ","))
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error building rate feed request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling rate feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate feed returned status %d", resp.StatusCode)
	}

	var payload struct {
		Base  string                     `json:"base"`
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding rate feed response: %w", err)
	}

	quotes := make([]RateQuote, 0, len(payload.Rates))
	for symbol, rate := range payload.Rates {
		quotes = append(quotes, RateQuote{
			From: base,
			To:   strings.ToUpper(symbol),
			Rate: rate,
		})
	}
	return quotes, nil
}
