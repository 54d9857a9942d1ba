package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Encode renders entries in the given format.
func Encode(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	case ExportFormatJSON:
		return exportJSON(entries)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// exportJSON exports entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, e := range entries {
		if err := encoder.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID", "CreatedAt", "UserID", "Action", "Resource", "ResourceID",
		"Success", "ErrorMessage", "IPAddress", "UserAgent", "Details", "OrganizationID",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		details := ""
		if e.Details != nil {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal details: %w", err)
			}
			details = string(b)
		}
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.UserID,
			string(e.Action),
			string(e.Resource),
			e.ResourceID,
			strconv.FormatBool(e.Success),
			e.ErrorMessage,
			e.IPAddress,
			e.UserAgent,
			details,
			e.OrganizationID,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ObjectWriter stores an export artifact.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// ExportResult summarizes one scheduled export.
type ExportResult struct {
	Key     string
	Entries int
	Start   time.Time
	End     time.Time
}

// Exporter copies a window of audit entries to object storage for
// compliance retention.
type Exporter struct {
	source   Searcher
	sink     ObjectWriter
	audit    *Logger
	prefix   string
	lookback time.Duration
	now      func() time.Time
}

// NewExporter creates an exporter that writes NDJSON under prefix.
func NewExporter(source Searcher, sink ObjectWriter, auditLogger *Logger, prefix string, lookback time.Duration) *Exporter {
	return &Exporter{
		source:   source,
		sink:     sink,
		audit:    auditLogger,
		prefix:   prefix,
		lookback: lookback,
		now:      time.Now,
	}
}

// Run exports entries created in the lookback window ending now. The export
// itself is audited with the strict Log, so a failed audit write fails the
// run.
func (x *Exporter) Run(ctx context.Context) (*ExportResult, error) {
	end := x.now().UTC()
	start := end.Add(-x.lookback)

	var all []*Entry
	for offset := 0; ; offset += maxSearchLimit {
		page, err := x.source.Search(ctx, SearchFilter{
			StartTime: &start,
			EndTime:   &end,
			Limit:     maxSearchLimit,
			Offset:    offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read audit window: %w", err)
		}
		all = append(all, page...)
		if len(page) < maxSearchLimit {
			break
		}
	}

	data, err := Encode(all, ExportFormatNDJSON)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s%s/audit-%s.ndjson", x.prefix, end.Format("2006/01/02"), end.Format("20060102T150405Z"))
	if err := x.sink.PutObject(ctx, key, data, ExportFormatNDJSON.ContentType()); err != nil {
		return nil, fmt.Errorf("failed to upload audit export: %w", err)
	}

	res := &ExportResult{Key: key, Entries: len(all), Start: start, End: end}
	if x.audit != nil {
		err := x.audit.Log(ctx, &Entry{
			Action:   ActionExport,
			Resource: ResourceSettings,
			Details: map[string]interface{}{
				"key":     key,
				"entries": len(all),
				"start":   start.Format(time.RFC3339),
				"end":     end.Format(time.RFC3339),
			},
			Success: true,
		})
		if err != nil {
			return res, fmt.Errorf("export uploaded but not audited: %w", err)
		}
	}
	return res, nil
}
