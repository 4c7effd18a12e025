package consolidate

import (
	"log/slog"
	"regexp"
	"strings"

	"nsecli/pkg/contracts/domain"
)

var nonAlnumLower = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName canonicalizes a security name or symbol for lookup:
// lowercase, punctuation collapsed to single spaces, trimmed.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumLower.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

type mappedSecurity struct {
	symbol string
	name   string
}

// Reconciler maps free-text security names from the traded-value report
// onto ticker symbols using the market-cap report as the authority.
// Matching is exact after normalization; there is no fuzzy fallback.
type Reconciler struct {
	lookup map[string]mappedSecurity
	logger *slog.Logger
}

// NewReconciler builds the lookup from market-cap rows. Both the
// normalized security name and the normalized symbol key into the same
// table; the first occurrence of a key wins, with name keys inserted
// before symbol keys.
func NewReconciler(mcapRows []domain.RawRecord, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	lookup := make(map[string]mappedSecurity, len(mcapRows)*2)

	for _, row := range mcapRows {
		key := NormalizeName(row.CompanyName)
		if key == "" {
			continue
		}
		if _, ok := lookup[key]; !ok {
			lookup[key] = mappedSecurity{symbol: row.Symbol, name: row.CompanyName}
		}
	}
	for _, row := range mcapRows {
		key := NormalizeName(row.Symbol)
		if key == "" {
			continue
		}
		if _, ok := lookup[key]; !ok {
			lookup[key] = mappedSecurity{symbol: row.Symbol, name: row.CompanyName}
		}
	}

	return &Reconciler{lookup: lookup, logger: logger}
}

// Size returns the number of lookup keys.
func (r *Reconciler) Size() int {
	return len(r.lookup)
}

// Apply rewrites traded-value rows onto ticker symbols. Rows with no
// match are dropped and counted. When the reconciler has no market-cap
// context at all, rows pass through keyed by their raw name so a
// traded-value-only consolidation still works.
func (r *Reconciler) Apply(rows []domain.RawRecord) ([]domain.RawRecord, int) {
	if len(r.lookup) == 0 {
		return rows, 0
	}

	out := make([]domain.RawRecord, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		mapped, ok := r.lookup[NormalizeName(row.CompanyName)]
		if !ok {
			mapped, ok = r.lookup[NormalizeName(row.Symbol)]
		}
		if !ok {
			dropped++
			continue
		}
		row.Symbol = mapped.symbol
		row.CompanyName = mapped.name
		out = append(out, row)
	}

	if dropped > 0 {
		r.logger.Debug("dropped unreconciled traded-value rows",
			slog.Int("dropped", dropped),
			slog.Int("kept", len(out)))
	}
	return out, dropped
}
