// Package nse talks to the exchange: daily bhavcopy archive downloads
// and per-symbol quote lookups.
package nse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"nsecli/internal/config"
	"nsecli/internal/infrastructure"
	"nsecli/pkg/contracts/domain"
)

// ErrNotAvailable marks a date with no published report, typically a
// holiday. Callers treat it as a normal outcome, not a failure.
var ErrNotAvailable = errors.New("no report published for date")

// DailyReport is the per-type CSV payload extracted from one day's
// PR.zip archive. Either member may be nil when the archive does not
// carry it.
type DailyReport struct {
	Date time.Time
	Mcap []byte
	Pr   []byte
}

// Client is a rate-limited NSE HTTP client. The exchange rejects
// cookieless requests, so the first call primes a session against the
// home page.
type Client struct {
	http        *resty.Client
	baseURL     string
	archivesURL string
	limiter     *rate.Limiter
	logger      *slog.Logger
	metrics     *infrastructure.Metrics

	primeOnce sync.Once
	primeErr  error
}

// NewClient creates a Client from configuration. metrics may be nil.
func NewClient(cfg config.NSEConfig, logger *slog.Logger, metrics *infrastructure.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json,text/plain,*/*").
		SetHeader("Connection", "keep-alive")

	return &Client{
		http:        httpClient,
		baseURL:     cfg.BaseURL,
		archivesURL: strings.TrimRight(cfg.ArchivesURL, "/"),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:      logger,
		metrics:     metrics,
	}
}

// prime fetches the home page once so the session carries the cookies
// the API endpoints require. Failure is tolerated; the API call itself
// will surface any real problem.
func (c *Client) prime(ctx context.Context) {
	c.primeOnce.Do(func() {
		if err := c.limiter.Wait(ctx); err != nil {
			c.primeErr = err
			return
		}
		_, err := c.http.R().SetContext(ctx).Get("/")
		if err != nil {
			c.logger.WarnContext(ctx, "cookie warmup failed", slog.String("error", err.Error()))
			c.primeErr = err
		}
	})
}

// DownloadDaily fetches the PR.zip bhavcopy archive for one trading
// date and extracts the market-cap and traded-value CSV members.
// Returns ErrNotAvailable when the exchange has nothing for the date.
func (c *Client) DownloadDaily(ctx context.Context, date time.Time) (*DailyReport, error) {
	c.prime(ctx)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	archives, _ := json.Marshal([]map[string]string{{
		"name":     "CM - Bhavcopy (PR.zip)",
		"type":     "archives",
		"category": "capital-market",
		"section":  "equities",
	}})

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"archives": string(archives),
			"date":     date.Format("02-Jan-2006"),
			"type":     "equities",
			"mode":     "single",
		}).
		Get("/api/reports")
	if c.metrics != nil {
		c.metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.countDownload("error")
		return nil, fmt.Errorf("bhavcopy download failed: %w", err)
	}

	switch {
	case resp.StatusCode() == 404:
		// The reports API ages dates out; the static archives host
		// keeps serving them.
		return c.downloadFromArchives(ctx, date)
	case resp.StatusCode() != 200:
		c.countDownload("error")
		return nil, fmt.Errorf("bhavcopy download: unexpected status %d", resp.StatusCode())
	}

	report, err := extractDaily(resp.Body(), date)
	if err != nil {
		if errors.Is(err, ErrNotAvailable) {
			c.countDownload("not_available")
		} else {
			c.countDownload("error")
		}
		return nil, err
	}

	c.countDownload("ok")
	c.logger.DebugContext(ctx, "bhavcopy downloaded",
		slog.String("date", date.Format("2006-01-02")),
		slog.Bool("has_mcap", report.Mcap != nil),
		slog.Bool("has_pr", report.Pr != nil))
	return report, nil
}

// downloadFromArchives fetches the PR.zip for a date straight from the
// static archives host. Returns ErrNotAvailable when the host has
// nothing either, or when no archives host is configured.
func (c *Client) downloadFromArchives(ctx context.Context, date time.Time) (*DailyReport, error) {
	if c.archivesURL == "" {
		c.countDownload("not_available")
		return nil, ErrNotAvailable
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/archives/equities/bhavcopy/pr/PR%s.zip", c.archivesURL, date.Format("020106"))
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		c.countDownload("error")
		return nil, fmt.Errorf("bhavcopy archive download failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		c.countDownload("not_available")
		return nil, ErrNotAvailable
	}

	report, err := extractDaily(resp.Body(), date)
	if err != nil {
		if errors.Is(err, ErrNotAvailable) {
			c.countDownload("not_available")
		} else {
			c.countDownload("error")
		}
		return nil, err
	}

	c.countDownload("ok")
	c.logger.DebugContext(ctx, "bhavcopy fetched from archives host",
		slog.String("date", date.Format("2006-01-02")))
	return report, nil
}

func (c *Client) countDownload(outcome string) {
	if c.metrics != nil {
		c.metrics.DownloadsTotal.WithLabelValues(outcome).Inc()
	}
}

// extractDaily pulls the CSV members out of a PR.zip payload. Member
// selection is by name priority: an mcap* file is the market-cap
// report; pr*/bh*/bhav* files are traded-value candidates, and any
// remaining CSV serves as a last-resort traded-value member.
func extractDaily(payload []byte, date time.Time) (*DailyReport, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		// The endpoint answers holidays with an HTML error page.
		return nil, ErrNotAvailable
	}

	report := &DailyReport{Date: date}
	var fallback *zip.File

	for _, member := range reader.File {
		name := strings.ToLower(member.Name)
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		switch {
		case strings.HasPrefix(name, "mcap") && report.Mcap == nil:
			if report.Mcap, err = readMember(member); err != nil {
				return nil, err
			}
		case (strings.HasPrefix(name, "pr") || strings.HasPrefix(name, "bh") || strings.Contains(name, "bhav")) && report.Pr == nil:
			if report.Pr, err = readMember(member); err != nil {
				return nil, err
			}
		case fallback == nil:
			fallback = member
		}
	}

	if report.Pr == nil && fallback != nil {
		if report.Pr, err = readMember(fallback); err != nil {
			return nil, err
		}
	}
	if report.Mcap == nil && report.Pr == nil {
		return nil, fmt.Errorf("no CSV member in archive for %s", date.Format("2006-01-02"))
	}
	return report, nil
}

func readMember(member *zip.File) ([]byte, error) {
	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive member %s: %w", member.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive member %s: %w", member.Name, err)
	}
	return data, nil
}

// ReportBytes returns the member for one report type, nil when absent.
func (r *DailyReport) ReportBytes(reportType domain.ReportType) []byte {
	switch reportType {
	case domain.ReportMarketCap:
		return r.Mcap
	case domain.ReportTradedValue:
		return r.Pr
	}
	return nil
}
