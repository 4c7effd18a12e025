package nse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nsecli/pkg/contracts/domain"
)

// seriesFallback is the order in which trading series are tried when a
// symbol does not resolve under EQ.
var seriesFallback = []string{"EQ", "BE", "BZ", "SM", "ST", "E1", "E2"}

// flexFloat tolerates the quote API's habit of sending numbers as
// strings, with separators, or as placeholder text. Anything
// unparseable is a missing cell.
type flexFloat domain.Cell

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	*f = flexFloat(domain.MissingCell())
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" || s == "NA" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*f = flexFloat(v)
	return nil
}

func (f flexFloat) cell() domain.Cell {
	return domain.Cell(f)
}

type quotePayload struct {
	EquityResponse []quoteEquity `json:"equityResponse"`
	Msg            string        `json:"msg"`
	Message        string        `json:"message"`
}

type quoteEquity struct {
	Symbol       string    `json:"symbol"`
	CompanyName  string    `json:"companyName"`
	Series       string    `json:"series"`
	SymbolStatus string    `json:"symbolStatus"`
	Index        string    `json:"index"`
	IndexList    []string  `json:"indexList"`
	ImpactCost   flexFloat `json:"impactCost"`
	FFMC         flexFloat `json:"ffmc"`
	TotalMcap    flexFloat `json:"totalMarketCap"`
	LastPrice    flexFloat `json:"lastPrice"`

	MetaData struct {
		Symbol      string   `json:"symbol"`
		CompanyName string   `json:"companyName"`
		IndexList   []string `json:"indexList"`
	} `json:"metaData"`
	TradeInfo struct {
		ImpactCost       flexFloat `json:"impactCost"`
		FFMC             flexFloat `json:"ffmc"`
		TotalMcap        flexFloat `json:"totalMarketCap"`
		TotalTradedValue flexFloat `json:"totalTradedValue"`
		LastPrice        flexFloat `json:"lastPrice"`
	} `json:"tradeInfo"`
	PriceInfo struct {
		TotalTurnover flexFloat `json:"totalTurnover"`
	} `json:"priceInfo"`
	SecInfo struct {
		ListingDate string   `json:"listingDate"`
		SecStatus   string   `json:"secStatus"`
		Index       string   `json:"index"`
		Indices     []string `json:"indices"`
	} `json:"secInfo"`
}

// Quote fetches point-in-time metrics for one symbol, walking the
// series fallback chain until the symbol resolves. Implements
// enrich.QuoteClient.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.SymbolMetrics, error) {
	c.prime(ctx)

	var lastErr error
	for _, series := range seriesFallback {
		equity, err := c.quoteSeries(ctx, symbol, series)
		if err != nil {
			if isRetriableQuoteErr(err) {
				lastErr = err
				continue
			}
			return domain.SymbolMetrics{}, err
		}
		return buildMetrics(symbol, series, equity), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no quote data for %s", symbol)
	}
	return domain.SymbolMetrics{}, lastErr
}

// errNoEquity marks a series with no listing; the fallback chain
// continues past it.
type errNoEquity struct {
	symbol string
	series string
	msg    string
}

func (e *errNoEquity) Error() string {
	return fmt.Sprintf("no quote for %s (%s): %s", e.symbol, e.series, e.msg)
}

func isRetriableQuoteErr(err error) bool {
	_, ok := err.(*errNoEquity)
	return ok
}

func (c *Client) quoteSeries(ctx context.Context, symbol, series string) (*quoteEquity, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"functionName": "getSymbolData",
			"marketType":   "N",
			"series":       series,
			"symbol":       symbol,
		}).
		Get("/api/NextApi/apiClient/GetQuoteApi")
	if err != nil {
		return nil, fmt.Errorf("quote request failed for %s: %w", symbol, err)
	}
	if resp.StatusCode() == 404 {
		return nil, &errNoEquity{symbol: symbol, series: series, msg: "not found"}
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("quote request for %s: unexpected status %d", symbol, resp.StatusCode())
	}

	var payload quotePayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("invalid quote payload for %s: %w", symbol, err)
	}
	if len(payload.EquityResponse) == 0 {
		msg := payload.Msg
		if msg == "" {
			msg = payload.Message
		}
		if msg == "" {
			msg = "empty equityResponse"
		}
		return nil, &errNoEquity{symbol: symbol, series: series, msg: msg}
	}
	return &payload.EquityResponse[0], nil
}

func buildMetrics(symbol, series string, eq *quoteEquity) domain.SymbolMetrics {
	m := domain.SymbolMetrics{
		Symbol:      firstNonEmpty(eq.Symbol, eq.MetaData.Symbol, symbol),
		CompanyName: firstNonEmpty(eq.CompanyName, eq.MetaData.CompanyName),
		Series:      firstNonEmpty(eq.Series, series),
		Status:      firstNonEmpty(eq.SymbolStatus, eq.SecInfo.SecStatus),

		ImpactCost:       coalesce(eq.ImpactCost, eq.TradeInfo.ImpactCost),
		FreeFloatMcap:    coalesce(eq.FFMC, eq.TradeInfo.FFMC),
		TotalMarketCap:   coalesce(eq.TotalMcap, eq.TradeInfo.TotalMcap),
		TotalTradedValue: coalesce(eq.TradeInfo.TotalTradedValue, eq.PriceInfo.TotalTurnover),
		LastPrice:        coalesce(eq.LastPrice, eq.TradeInfo.LastPrice),
	}

	// First index seen wins as the primary; the full list is de-duped
	// in order.
	var indices []string
	seen := make(map[string]struct{})
	add := func(values ...string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			indices = append(indices, v)
		}
	}
	add(eq.Index, eq.SecInfo.Index)
	add(eq.IndexList...)
	add(eq.MetaData.IndexList...)
	add(eq.SecInfo.Indices...)

	if len(indices) > 0 {
		m.PrimaryIndex = indices[0]
		m.Indices = indices
	}

	if listed := parseListingDate(eq.SecInfo.ListingDate); listed != nil {
		m.ListingDate = listed
	}
	return m
}

var listingDateLayouts = []string{"02-Jan-2006", "2006-01-02", "02-01-2006"}

func parseListingDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil
	}
	for _, layout := range listingDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func coalesce(values ...flexFloat) domain.Cell {
	for _, v := range values {
		if !v.cell().IsMissing() {
			return v.cell()
		}
	}
	return domain.MissingCell()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
