package bhavcopy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "nsecli/internal/errors"
	"nsecli/pkg/contracts/domain"
)

var testDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

const mcapCSV = `Trade Date,Symbol,Series,Security Name,Market Cap(Rs.),Free Float Market Cap
15-Mar-2024,RELIANCE,EQ,Reliance Industries Limited,"2000000",1200000
15-Mar-2024,TCS,EQ,Tata Consultancy Services Ltd.,1500000,900000
15-Mar-2024,INFY,EQ,Infosys Limited,not-a-number,500000
15-Mar-2024,TOTAL,, ,9999999,9999999
15-Mar-2024,Listed Securities,, ,8888888,8888888
`

func TestLoaderMcap(t *testing.T) {
	loader := NewLoader(nil)

	records, err := loader.Load(strings.NewReader(mcapCSV), domain.ReportMarketCap, testDate, "mcap15032024.csv")
	require.NoError(t, err)
	require.Len(t, records, 3, "summary rows must be excluded")

	assert.Equal(t, "RELIANCE", records[0].Symbol)
	assert.Equal(t, "Reliance Industries Limited", records[0].CompanyName)
	v, ok := records[0].Value.Float()
	require.True(t, ok)
	assert.Equal(t, 2000000.0, v)
	ff, ok := records[0].FreeFloat.Float()
	require.True(t, ok)
	assert.Equal(t, 1200000.0, ff)

	assert.True(t, records[2].Value.IsMissing(), "unparseable value becomes a missing cell")
	assert.False(t, records[2].FreeFloat.IsMissing())

	for _, rec := range records {
		assert.Equal(t, testDate, rec.Date)
	}
}

func TestLoaderPr(t *testing.T) {
	csv := strings.Join([]string{
		"MKT,SECURITY,PREV_CL_PR,NET_TRDVAL",
		"N,Reliance Industries Limited,100, 2940.55 ",
		"N,TOTAL TRADED,0,123456",
		`N,"Odd, Name Ltd",10,"1,234.50"`,
	}, "\n")

	loader := NewLoader(nil)
	records, err := loader.Load(strings.NewReader(csv), domain.ReportTradedValue, testDate, "pr15032024.csv")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Reliance Industries Limited", records[0].Symbol)
	assert.Equal(t, "Reliance Industries Limited", records[0].CompanyName)
	v, ok := records[0].Value.Float()
	require.True(t, ok)
	assert.Equal(t, 2940.55, v)

	v, ok = records[1].Value.Float()
	require.True(t, ok, "thousands separators are tolerated")
	assert.Equal(t, 1234.50, v)
}

func TestLoaderMissingColumns(t *testing.T) {
	csv := "Symbol,Close Price\nRELIANCE,2940\n"

	loader := NewLoader(nil)
	_, err := loader.Load(strings.NewReader(csv), domain.ReportMarketCap, testDate, "mcap15032024.csv")
	require.Error(t, err)
	require.True(t, apperrors.IsMalformedInput(err))

	var malformed *apperrors.MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Missing, "Security Name")
	assert.Contains(t, malformed.Missing, "Market Cap(Rs.)")
	assert.NotContains(t, malformed.Missing, "Symbol")
}

func TestLoaderRaggedRows(t *testing.T) {
	csv := strings.Join([]string{
		"Symbol,Security Name,Market Cap(Rs.),Free Float Market Cap",
		"RELIANCE,Reliance Industries Limited,2000000,1200000",
		"SHORTROW",
		"TCS,Tata Consultancy Services Ltd.,1500000",
	}, "\n")

	loader := NewLoader(nil)
	records, err := loader.Load(strings.NewReader(csv), domain.ReportMarketCap, testDate, "mcap15032024.csv")
	require.NoError(t, err, "ragged rows are skipped, not fatal")
	require.Len(t, records, 2)
	assert.Equal(t, "TCS", records[1].Symbol)
	assert.True(t, records[1].FreeFloat.IsMissing(), "row too short for free float keeps a missing cell")
}

func TestLoaderHeaderWhitespace(t *testing.T) {
	csv := "Symbol , Security Name ,Market Cap(Rs.) ,Free Float Market Cap\nTCS,Tata Consultancy Services Ltd.,1500000,900000\n"

	loader := NewLoader(nil)
	records, err := loader.Load(strings.NewReader(csv), domain.ReportMarketCap, testDate, "mcap15032024.csv")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestIsSummaryRow(t *testing.T) {
	tests := []struct {
		symbol string
		want   bool
	}{
		{"TOTAL", true},
		{"total", true},
		{"  Total  ", true},
		{"LISTED", true},
		{"TOTAL LISTED", true},
		{"Listed-Total", true},
		{"TOTAL SECURITIES", true},
		{"LISTED COMPANIES", true},
		{"RELIANCE", false},
		{"TOTALGAS", true}, // prefix match is deliberate
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSummaryRow(tt.symbol))
		})
	}
}

func TestParseFileName(t *testing.T) {
	typ, date, ok := ParseFileName("mcap15032024.csv")
	require.True(t, ok)
	assert.Equal(t, domain.ReportMarketCap, typ)
	assert.Equal(t, testDate, date)

	typ, date, ok = ParseFileName("pr01012023.csv")
	require.True(t, ok)
	assert.Equal(t, domain.ReportTradedValue, typ)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), date)

	_, _, ok = ParseFileName("bhav15032024.csv")
	assert.False(t, ok)

	_, _, ok = ParseFileName("mcap99999999.csv")
	assert.False(t, ok)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "mcap15032024.csv", FileName(domain.ReportMarketCap, testDate))
	assert.Equal(t, "pr15032024.csv", FileName(domain.ReportTradedValue, testDate))
}
