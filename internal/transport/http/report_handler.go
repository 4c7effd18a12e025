// Package http exposes the consolidation pipeline over a chi router.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "nsecli/internal/errors"
	"nsecli/internal/nse"
	"nsecli/internal/services"
	"nsecli/pkg/contracts/domain"
)

const dateLayout = "02-01-2006"

// maxUploadBytes caps multipart report uploads (daily files run a few MB).
const maxUploadBytes = 256 << 20

// ReportHandler handles consolidation and report-generation requests.
type ReportHandler struct {
	service  *services.ReportService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(service *services.ReportService, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{
		service:  service,
		logger:   logger.With(slog.String("component", "report_handler")),
		validate: validator.New(),
	}
}

// Routes returns the report routes.
func (h *ReportHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/consolidate", h.Consolidate)
	r.Post("/preview", h.Preview)
	r.Post("/reports/range", h.GenerateRange)
	r.Get("/trading-dates", h.TradingDates)

	return r
}

// Consolidate handles POST /api/consolidate: multipart daily report
// files in, a finished spreadsheet out.
func (h *ReportHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	files, actions, apiErr := h.parseUpload(r)
	if apiErr != nil {
		apierrors.WriteError(w, apiErr)
		return
	}

	result, err := h.service.ConsolidateFiles(files, actions)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeArtifact(w, result)
}

// Preview handles POST /api/preview: same input as Consolidate, but
// returns a JSON summary instead of the spreadsheet.
func (h *ReportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	files, actions, apiErr := h.parseUpload(r)
	if apiErr != nil {
		apierrors.WriteError(w, apiErr)
		return
	}

	result, err := h.service.PreviewFiles(files, actions)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	previews := make(map[string]*services.PreviewSummary, len(result.Tables))
	for reportType, table := range result.Tables {
		previews[string(reportType)] = services.Preview(table, nil, 10)
	}
	render.JSON(w, r, map[string]interface{}{
		"success":  true,
		"previews": previews,
		"warnings": result.Warnings,
	})
}

type rangeRequest struct {
	From         string   `json:"from" validate:"required"`
	To           string   `json:"to" validate:"required"`
	Types        []string `json:"types" validate:"omitempty,dive,oneof=mcap pr"`
	Policy       string   `json:"policy" validate:"omitempty,oneof=missing_only force"`
	AllowMissing bool     `json:"allow_missing"`
	Enrich       bool     `json:"enrich"`
	Upload       bool     `json:"upload"`
}

// GenerateRange handles POST /api/reports/range: downloads the range,
// consolidates, optionally enriches, and streams the artifact back.
// Soft warnings travel in the X-Report-Warnings header.
func (h *ReportHandler) GenerateRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apierrors.WriteError(w, apierrors.NewWithDetails(
			http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error()))
		return
	}

	from, err := time.Parse(dateLayout, req.From)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrValidation("from", "expected DD-MM-YYYY"))
		return
	}
	to, err := time.Parse(dateLayout, req.To)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrValidation("to", "expected DD-MM-YYYY"))
		return
	}
	if to.Before(from) {
		apierrors.WriteError(w, apierrors.ErrValidation("to", "range end precedes range start"))
		return
	}

	policy := services.PolicyMissingOnly
	if req.Policy != "" {
		policy = services.CachePolicy(req.Policy)
	}

	types := make([]domain.ReportType, 0, len(req.Types))
	for _, t := range req.Types {
		types = append(types, domain.ReportType(t))
	}

	result, err := h.service.GenerateRange(r.Context(), services.RangeRequest{
		From:         from,
		To:           to,
		Types:        types,
		Policy:       policy,
		AllowMissing: req.AllowMissing,
		Enrich:       req.Enrich,
		Upload:       req.Upload,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeArtifact(w, result)
}

// TradingDates handles GET /api/trading-dates. Without parameters it
// lists the last two years of weekdays, newest first.
func (h *ReportHandler) TradingDates(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	var dates []time.Time
	fromParam := r.URL.Query().Get("from")
	toParam := r.URL.Query().Get("to")
	if fromParam != "" || toParam != "" {
		from, err := time.Parse(dateLayout, fromParam)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrValidation("from", "expected DD-MM-YYYY"))
			return
		}
		to, err := time.Parse(dateLayout, toParam)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrValidation("to", "expected DD-MM-YYYY"))
			return
		}
		dates = nse.TradingDates(from, to)
	} else {
		dates = nse.RecentTradingDates(now)
	}

	labels := make([]string, len(dates))
	for i, d := range dates {
		labels[i] = d.Format(dateLayout)
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"dates":   labels,
		"count":   len(labels),
		"today":   now.Format(dateLayout),
	})
}

// parseUpload reads the multipart files and the optional actions field.
func (h *ReportHandler) parseUpload(r *http.Request) ([]services.UploadedFile, domain.CorporateActions, *apierrors.APIError) {
	var actions domain.CorporateActions

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, actions, apierrors.InvalidRequestWithError(err)
	}

	if raw := r.FormValue("actions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &actions); err != nil {
			return nil, actions, apierrors.ErrValidation("actions", "invalid corporate actions JSON")
		}
	}

	var files []services.UploadedFile
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				return nil, actions, apierrors.InvalidRequestWithError(err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, actions, apierrors.InvalidRequestWithError(err)
			}
			files = append(files, services.UploadedFile{Name: header.Filename, Data: data})
		}
	}
	if len(files) == 0 {
		return nil, actions, apierrors.ErrValidation("files", "at least one report file is required")
	}
	return files, actions, nil
}

// writeArtifact streams a finished report with its warnings header.
func (h *ReportHandler) writeArtifact(w http.ResponseWriter, result *services.RangeResult) {
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.FileName))
	if len(result.Warnings) > 0 {
		w.Header().Set("X-Report-Warnings", fmt.Sprintf("%d", len(result.Warnings)))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.Artifact)
}

// writeDomainError maps pipeline errors onto API errors.
func (h *ReportHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		malformed *apierrors.MalformedInputError
		missing   *apierrors.MissingDataError
		universe  *apierrors.NoDataForUniverseError
	)
	switch {
	case errors.As(err, &malformed):
		apierrors.WriteError(w, apierrors.NewWithDetails(
			http.StatusBadRequest, "MALFORMED_INPUT", malformed.Error(), malformed.Missing))
	case errors.As(err, &missing):
		apierrors.WriteError(w, apierrors.NewWithDetails(
			http.StatusUnprocessableEntity, "MISSING_DATA", missing.Error(), nil))
	case errors.As(err, &universe):
		apierrors.WriteError(w, apierrors.NewWithDetails(
			http.StatusUnprocessableEntity, "NO_DATA_FOR_UNIVERSE", universe.Error(), nil))
	default:
		h.logger.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.NewInternalError("report generation failed"))
	}
}
