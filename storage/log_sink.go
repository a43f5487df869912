package storage

import (
	"context"
	"encoding/json"

	"github.com/tptracker/tptracker/pkg/sqllogger"
	"github.com/tptracker/tptracker/storage/sqlcgen"
)

// LogInsertFunc returns a sqllogger.InsertFunc writing to app_logs. Inserts
// are never traced, so the storage logger may itself feed the sink.
func (s *Storage) LogInsertFunc() sqllogger.InsertFunc {
	return func(ctx context.Context, entry sqllogger.InsertLogEntryParams) error {
		params := sqlcgen.InsertAppLogEntryParams{
			TimestampMillis: entry.TimestampMillis,
			LevelText:       entry.LevelText,
			Scope:           stringPtr(entry.Scope),
			Message:         entry.Message,
			AttrsJson:       json.RawMessage(entry.AttrsJSON),
			SourceFile:      stringPtr(entry.SourceFile),
			SourceLine:      nullableInt64(entry.SourceLine),
			SourceFunction:  stringPtr(entry.SourceFunction),
			TenantID:        entry.TenantID,
			PollID:          stringPtr(entry.PollID),
		}
		return s.logQueries.InsertAppLogEntry(ctx, params)
	}
}

func stringPtr(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}

func nullableInt64(v int) *int64 {
	if v <= 0 {
		return nil
	}
	out := int64(v)
	return &out
}
