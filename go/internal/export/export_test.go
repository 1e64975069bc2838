package export

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timetrial/go/internal/models"
)

func entryAt(submitted time.Time, d time.Duration, form map[string]string) models.Entry {
	start := submitted.Add(-time.Minute)
	end := start.Add(d)
	return models.Entry{
		SubmissionTime: submitted,
		Session: models.Session{
			Phase:     models.PhaseFinished,
			StartTime: &start,
			EndTime:   &end,
			Form:      form,
		},
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFilter_BoundsAreExclusive(t *testing.T) {
	d0 := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	d1 := time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC)
	entries := []models.Entry{
		entryAt(d0, time.Second, nil),
		entryAt(d0.Add(time.Hour), time.Second, nil),
		entryAt(d1.Add(-time.Hour), time.Second, nil),
		entryAt(d1, time.Second, nil),
	}

	got := Filter(entries, &Range{Start: d0, End: d1})
	require.Len(t, got, 2)
	assert.True(t, got[0].SubmissionTime.Equal(d0.Add(time.Hour)))
	assert.True(t, got[1].SubmissionTime.Equal(d1.Add(-time.Hour)))

	assert.Len(t, Filter(entries, nil), 4)
}

func TestWrite_HeaderAndRows(t *testing.T) {
	submitted := time.Date(2026, 10, 19, 14, 5, 9, 0, time.UTC)
	entries := []models.Entry{
		entryAt(submitted, 65250*time.Millisecond, map[string]string{
			"firstName": "Ada",
			"lastName":  "Lovelace",
			"email":     "ada@example.com",
			"zip":       "02139",
		}),
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries, time.UTC))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"firstName", "lastName", "email", "address", "phone", "city", "state", "zip", "date", "time", "score"}, rows[0])
	assert.Equal(t, []string{"Ada", "Lovelace", "ada@example.com", "", "", "", "", "02139", "10/19/2026", "14:05:09", "1:05.250"}, rows[1])
}

func TestWrite_ToleratesMissingFields(t *testing.T) {
	entries := []models.Entry{
		{Session: models.Session{Phase: models.PhaseFinished}},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries, time.UTC))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], len(Columns))
	for _, cell := range rows[1] {
		assert.Empty(t, cell)
	}
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "0:08.250", FormatScore(8250*time.Millisecond))
	assert.Equal(t, "0:12.500", FormatScore(12500*time.Millisecond))
	assert.Equal(t, "2:00.001", FormatScore(2*time.Minute+time.Millisecond))
}

func TestParseRange(t *testing.T) {
	rng, err := ParseRange("2026-10-01", "2026-10-03T12:00:00Z", time.UTC)
	require.NoError(t, err)
	assert.True(t, rng.Start.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, rng.End.Equal(time.Date(2026, 10, 3, 12, 0, 0, 0, time.UTC)))

	_, err = ParseRange("yesterday", "2026-10-03", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = ParseRange("2026-10-03", "2026-10-01", time.UTC)
	assert.ErrorIs(t, err, ErrEmptyRange)
}

func TestExporter_WritesTimestampedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 20, 15, 0, 0, time.UTC))
	x := NewExporter(dir, clock, time.UTC)

	submitted := time.Date(2026, 10, 19, 19, 0, 0, 0, time.UTC)
	entries := []models.Entry{
		entryAt(submitted, time.Second, map[string]string{"firstName": "in"}),
		entryAt(submitted.Add(-48*time.Hour), time.Second, map[string]string{"firstName": "out"}),
	}

	path, err := x.Export(entries, &Range{Start: submitted.Add(-time.Hour), End: submitted.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sessions-20261019-201500.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows := readCSV(t, data)
	require.Len(t, rows, 2)
	assert.Equal(t, "in", rows[1][0])
}

func TestHandler_ServesFilteredCSV(t *testing.T) {
	submitted := time.Date(2026, 10, 2, 10, 0, 0, 0, time.UTC)
	entries := []models.Entry{
		entryAt(submitted, time.Second, map[string]string{"firstName": "kept"}),
		entryAt(submitted.AddDate(0, 1, 0), time.Second, map[string]string{"firstName": "dropped"}),
	}
	h := NewHandler(func() []models.Entry { return entries }, clockwork.NewFakeClock(), time.UTC)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions.csv?start=2026-10-01&end=2026-10-03", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	rows := readCSV(t, rec.Body.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, "kept", rows[1][0])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions.csv?start=bogus&end=2026-10-03", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
