package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("checksum mismatch")

	tests := []struct {
		name  string
		input []any
		want  int
	}{
		{"empty input", []any{}, 0},
		{"frame fields", []any{"code", "E4", "len", 49, "ok", true}, 3},
		{"time type", []any{"started", now}, 1},
		{"float fare", []any{"fare", 23.5}, 1},
		{"raw frame", []any{"frame", []byte{0x55, 0xAA}}, 1},
		{"error only", []any{err}, 1},
		{"multiple errors", []any{err, errors.New("timeout")}, 2},
		{"mixed field types", []any{"trip", "t-1", zap.String("device", "ABC"), "extras", 3}, 3},
		{"odd number of args", []any{"key1", "val1", "key2"}, 2},
		{"non-string key", []any{123, "value", true, 99}, 2},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, 2},
		{"map value", []any{"patch", map[string]string{"status": "hired"}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			if len(fields) != tt.want {
				t.Errorf("got %d fields, want %d: %+v", len(fields), tt.want, fields)
			}
			for _, f := range fields {
				if f.Key == "" {
					t.Errorf("field has empty key: %+v", f)
				}
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug) error = %v", err)
	}
	if got := Level(); got != "debug" {
		t.Errorf("Level() = %q, want debug", got)
	}
	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel accepted an unknown level")
	}
}

func TestRawBytesRenderAsHex(t *testing.T) {
	fields := toFields("frame", []byte{0x55, 0xAA, 0x0f})
	if len(fields) != 1 || fields[0].String != "55AA0F" {
		t.Errorf("toFields(frame) = %+v", fields)
	}
}
