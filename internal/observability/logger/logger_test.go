package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

// TestPurpose: Validates that credential-like attributes are never written in clear text.
// Scope: Unit Test
// Security: Sensitive Data Exposure (CWE-532)
// Expected: password and token values are replaced; other attributes are kept.
// Test Case ID: LOG-01
func TestNew_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", ServiceName: "agencydesk", Output: &buf})

	l.Info("signup", slog.String("password", "hunter22"), slog.String("Token", "abc"), UserID("u-1"))

	line := decodeLine(t, &buf)
	assert.Equal(t, redacted, line["password"])
	assert.Equal(t, redacted, line["Token"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "agencydesk", line["service"])
	assert.NotContains(t, buf.String(), "hunter22")
}

// TestPurpose: Validates that trace identifiers from the context are attached to log records.
// Scope: Unit Test
// Expected: trace_id and span_id appear when the context carries a valid span.
// Test Case ID: LOG-02
func TestTraceContextHandler_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Output: &buf})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.InfoContext(ctx, "traced", Error(errors.New("boom")))

	line := decodeLine(t, &buf)
	assert.Equal(t, sc.TraceID().String(), line["trace_id"])
	assert.Equal(t, sc.SpanID().String(), line["span_id"])
	assert.Equal(t, "boom", line["error"])
}

// TestPurpose: Validates level parsing and filtering.
// Scope: Unit Test
// Expected: Records below the configured level are dropped.
// Test Case ID: LOG-03
func TestNew_LevelFiltering(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))

	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "text", Output: &buf})
	l.Info("hidden")
	assert.Empty(t, buf.String())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
