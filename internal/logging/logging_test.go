package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})
	log.With(String("phase", "fund")).Info(context.Background(), "funding node",
		String("node", "blast_lnd-0000"),
		Int("index", 3),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "funding node" || rec["phase"] != "fund" || rec["node"] != "blast_lnd-0000" || rec["error"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filtering wrong: %q", buf.String())
	}
}

func TestWithRunLoggerReusesExistingID(t *testing.T) {
	ctx, _ := WithRunLogger(context.Background(), Noop())
	id := RunIDFromContext(ctx)
	if id == "" {
		t.Fatalf("run id not attached")
	}
	ctx2, _ := WithRunLogger(ctx, nil)
	if got := RunIDFromContext(ctx2); got != id {
		t.Fatalf("run id = %q, want %q", got, id)
	}
}

func TestErrNil(t *testing.T) {
	if f := Err(nil); f.Key != "error" || f.Value != "" {
		t.Fatalf("Err(nil) = %+v", f)
	}
}
