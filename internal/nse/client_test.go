package nse

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsecli/internal/config"
	"nsecli/pkg/contracts/domain"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.NSEConfig{
		BaseURL:        server.URL,
		ArchivesURL:    server.URL,
		UserAgent:      "test-agent",
		RequestTimeout: 5 * time.Second,
		RateLimit:      1000,
		RateBurst:      1000,
	}, nil, nil)
}

func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDownloadDaily(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	payload := buildZip(t, map[string]string{
		"Readme.txt":        "ignore me",
		"mcap15032024.csv":  "Symbol,Market Cap(Rs.)\nTCS,100\n",
		"Pr150324.csv":      "SECURITY,NET_TRDVAL\nTata Consultancy,50\n",
		"corpact150324.csv": "other,data\n",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15-Mar-2024", r.URL.Query().Get("date"))
		assert.Equal(t, "equities", r.URL.Query().Get("type"))
		assert.Contains(t, r.URL.Query().Get("archives"), "PR.zip")
		w.Write(payload)
	})

	client := testClient(t, mux)
	report, err := client.DownloadDaily(context.Background(), date)
	require.NoError(t, err)

	assert.Contains(t, string(report.Mcap), "Market Cap(Rs.)")
	assert.Contains(t, string(report.Pr), "NET_TRDVAL")
	assert.Equal(t, report.Mcap, report.ReportBytes(domain.ReportMarketCap))
	assert.Equal(t, report.Pr, report.ReportBytes(domain.ReportTradedValue))
}

func TestDownloadDailyMemberPriority(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	// No mcap/pr member; a bhav file wins over the generic CSV.
	payload := buildZip(t, map[string]string{
		"random.csv":       "a,b\n",
		"bhav15032024.csv": "SECURITY,NET_TRDVAL\nX,1\n",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	client := testClient(t, mux)
	report, err := client.DownloadDaily(context.Background(), date)
	require.NoError(t, err)
	assert.Nil(t, report.Mcap)
	assert.Contains(t, string(report.Pr), "NET_TRDVAL")
}

func TestDownloadDailyHoliday(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>no data</html>"))
	})

	client := testClient(t, mux)
	_, err := client.DownloadDaily(context.Background(), time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrNotAvailable, "a non-zip body means a holiday, not a failure")
}

func TestDownloadDailyNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	client := testClient(t, mux)
	_, err := client.DownloadDaily(context.Background(), time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestDownloadDailyArchivesFallback(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	payload := buildZip(t, map[string]string{
		"Pr150324.csv": "SECURITY,NET_TRDVAL\nTata Consultancy,50\n",
	})

	var archiveHits int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/archives/equities/bhavcopy/pr/PR150324.zip", func(w http.ResponseWriter, r *http.Request) {
		archiveHits++
		w.Write(payload)
	})

	client := testClient(t, mux)
	report, err := client.DownloadDaily(context.Background(), date)
	require.NoError(t, err, "a date missing from the reports API still resolves via the archives host")

	assert.Equal(t, 1, archiveHits)
	assert.Contains(t, string(report.Pr), "NET_TRDVAL")
}

func TestQuoteSeriesFallback(t *testing.T) {
	var seriesTried []string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/NextApi/apiClient/GetQuoteApi", func(w http.ResponseWriter, r *http.Request) {
		series := r.URL.Query().Get("series")
		seriesTried = append(seriesTried, series)
		if series != "BE" {
			w.Write([]byte(`{"equityResponse":[],"msg":"No equityResponse"}`))
			return
		}
		w.Write([]byte(`{
			"equityResponse": [{
				"symbol": "DEMO",
				"companyName": "Demo Industries Limited",
				"series": "BE",
				"index": "NIFTY 50",
				"indexList": ["NIFTY 50", "NIFTY 100"],
				"impactCost": "0.05",
				"tradeInfo": {
					"ffmc": "1,234.5",
					"totalMarketCap": 5000,
					"totalTradedValue": "750.25",
					"lastPrice": "2940.55"
				},
				"secInfo": {"listingDate": "15-Mar-2010", "secStatus": "Listed"}
			}]
		}`))
	})

	client := testClient(t, mux)
	metrics, err := client.Quote(context.Background(), "DEMO")
	require.NoError(t, err)

	assert.Equal(t, []string{"EQ", "BE"}, seriesTried)
	assert.Equal(t, "DEMO", metrics.Symbol)
	assert.Equal(t, "Demo Industries Limited", metrics.CompanyName)
	assert.Equal(t, "BE", metrics.Series)
	assert.Equal(t, "Listed", metrics.Status)
	assert.Equal(t, "NIFTY 50", metrics.PrimaryIndex)
	assert.Equal(t, []string{"NIFTY 50", "NIFTY 100"}, metrics.Indices)

	v, ok := metrics.ImpactCost.Float()
	require.True(t, ok)
	assert.Equal(t, 0.05, v)
	v, ok = metrics.FreeFloatMcap.Float()
	require.True(t, ok, "separator-formatted strings parse")
	assert.Equal(t, 1234.5, v)
	v, ok = metrics.TotalMarketCap.Float()
	require.True(t, ok)
	assert.Equal(t, 5000.0, v)

	require.NotNil(t, metrics.ListingDate)
	assert.Equal(t, time.Date(2010, 3, 15, 0, 0, 0, 0, time.UTC), *metrics.ListingDate)
}

func TestQuoteExhaustsFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/NextApi/apiClient/GetQuoteApi", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	client := testClient(t, mux)
	_, err := client.Quote(context.Background(), "NOSUCH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOSUCH")
}

func TestTradingDates(t *testing.T) {
	// 2024-03-14 is a Thursday; the range spans a weekend.
	from := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 19, 0, 0, 0, 0, time.UTC)

	dates := TradingDates(from, to)
	require.Len(t, dates, 4)
	assert.Equal(t, time.Thursday, dates[0].Weekday())
	assert.Equal(t, time.Friday, dates[1].Weekday())
	assert.Equal(t, time.Monday, dates[2].Weekday())
	assert.Equal(t, time.Tuesday, dates[3].Weekday())

	assert.Nil(t, TradingDates(to, from), "inverted range is empty")
}

func TestRecentTradingDatesNewestFirst(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	dates := RecentTradingDates(now)
	require.NotEmpty(t, dates)
	assert.Equal(t, midnight(now), dates[0])
	assert.True(t, dates[len(dates)-1].Before(dates[0]))
}
