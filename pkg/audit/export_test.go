package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []*Entry {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*Entry{
		{ID: 1, UserID: "u1", Action: ActionCreate, Resource: ResourceStore, ResourceID: "s1", Success: true, CreatedAt: created,
			Details: map[string]interface{}{"code": "NYC1"}},
		{ID: 2, UserID: "u1", Action: ActionDeactivate, Resource: ResourceUser, ResourceID: "u2", Success: false,
			ErrorMessage: "cannot deactivate self, really", CreatedAt: created},
	}
}

func TestEncode_CSV(t *testing.T) {
	data, err := Encode(sampleEntries(), ExportFormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, "2026-03-01T12:00:00Z", records[1][1])
	assert.Equal(t, `{"code":"NYC1"}`, records[1][10])
	assert.Equal(t, "cannot deactivate self, really", records[2][7])
}

func TestEncode_NDJSON(t *testing.T) {
	data, err := Encode(sampleEntries(), ExportFormatNDJSON)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestEncode_JSONEmptyIsArray(t *testing.T) {
	data, err := Encode(nil, ExportFormatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	_, err = Encode(nil, ExportFormat("xml"))
	assert.Error(t, err)
}

type fakeSearcher struct {
	entries []*Entry
	filters []SearchFilter
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, filter SearchFilter) ([]*Entry, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	start := filter.Offset
	if start > len(f.entries) {
		start = len(f.entries)
	}
	end := start + filter.Limit
	if end > len(f.entries) {
		end = len(f.entries)
	}
	return f.entries[start:end], nil
}

type fakeSink struct {
	key         string
	data        []byte
	contentType string
	err         error
}

func (f *fakeSink) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.key, f.data, f.contentType = key, data, contentType
	return nil
}

func TestExporter_Run(t *testing.T) {
	source := &fakeSearcher{entries: sampleEntries()}
	sink := &fakeSink{}
	store := &memStore{}
	auditLogger, _, _ := newTestLogger(store)

	x := NewExporter(source, sink, auditLogger, "audit/", 24*time.Hour)
	x.now = func() time.Time { return time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC) }

	res, err := x.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, "audit/2026/03/02/audit-20260302T003000Z.ndjson", sink.key)
	assert.Equal(t, "application/x-ndjson", sink.contentType)
	assert.Equal(t, 2, bytes.Count(sink.data, []byte("\n")))

	require.Len(t, source.filters, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC), *source.filters[0].StartTime)

	require.Len(t, store.entries, 1)
	assert.Equal(t, ActionExport, store.entries[0].Action)
}

func TestExporter_RunFailsWhenAuditWriteFails(t *testing.T) {
	auditLogger, _, _ := newTestLogger(&memStore{err: errors.New("read-only")})
	x := NewExporter(&fakeSearcher{}, &fakeSink{}, auditLogger, "audit/", time.Hour)

	res, err := x.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	var auditErr *Error
	assert.ErrorAs(t, err, &auditErr)
}

func TestExporter_RunUploadFailure(t *testing.T) {
	x := NewExporter(&fakeSearcher{}, &fakeSink{err: errors.New("access denied")}, nil, "audit/", time.Hour)
	_, err := x.Run(context.Background())
	assert.ErrorContains(t, err, "failed to upload audit export")
}
