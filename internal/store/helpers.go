package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// jsonColumn marshals v for a nullable JSON text column. nil input stores NULL.
func jsonColumn(v any) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

// scanJSON decodes a nullable JSON text column into dst; NULL leaves dst untouched.
func scanJSON(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

// timePtr converts a nullable timestamp column to *time.Time.
func timePtr(src sql.NullTime) *time.Time {
	if !src.Valid {
		return nil
	}
	t := src.Time
	return &t
}
