package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}

	if err := Init(WithFormat("xml")); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(WithFormat("JSON"), WithWriter(&buf)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = Init() }()

	Named("ingest").With(String("sessionID", "s1")).Info(context.Background(), "batch queued",
		Int("accepted", 3),
		Error(errors.New("boom")),
	)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if line["msg"] != "batch queued" {
		t.Errorf("msg = %v", line["msg"])
	}
	if line["component"] != "ingest" {
		t.Errorf("component = %v", line["component"])
	}
	if line["sessionID"] != "s1" {
		t.Errorf("sessionID = %v", line["sessionID"])
	}
	if line["accepted"] != float64(3) {
		t.Errorf("accepted = %v", line["accepted"])
	}
	if src, _ := line["source"].(string); !strings.Contains(src, "logger_test.go") {
		t.Errorf("source = %v", line["source"])
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(WithWriter(&buf)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		_ = SetLevelString("info")
		_ = Init()
	}()

	ctx := context.Background()
	if err := SetLevelString("WARN"); err != nil {
		t.Fatalf("SetLevelString: %v", err)
	}
	Get().Info(ctx, "hidden")
	Get().Warn(ctx, "shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output at warn level: %q", out)
	}

	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestNop(t *testing.T) {
	l := Nop().Named("quiet")
	l.Error(context.Background(), "nothing to see")
	l.Info(nil, "nil context is tolerated") //nolint:staticcheck // SA1012
}
