package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewSlog_BridgesRecordAndContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithComponent(ctx, "catalog")
	log.InfoContext(ctx, "tiles selected", "count", 3, "partial", true, "layer", "nuage-dalle")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "tiles selected" || entry["level"] != "info" {
		t.Fatalf("entry=%v", entry)
	}
	if entry["run_id"] != "run-1" || entry["component"] != "catalog" {
		t.Fatalf("context fields missing: %v", entry)
	}
	if entry["count"] != float64(3) || entry["partial"] != true || entry["layer"] != "nuage-dalle" {
		t.Fatalf("record fields missing: %v", entry)
	}
}

func TestNewSlog_WithAttrsSticks(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl).With("dataset", "lidar")

	log.Warn("mirror failed")
	line := strings.TrimSpace(buf.String())

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if entry["dataset"] != "lidar" {
		t.Fatalf("preset attr missing: %v", entry)
	}
	if entry["level"] != "warn" {
		t.Fatalf("level=%v want warn", entry["level"])
	}
}
