package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggerWritesNamespace(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(buf)
	logger.InfoNs("lake", "created tables", KV{"backend": "sqlite"})

	record := map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "lake", record["ns"])
	assert.Equal(t, "sqlite", record["backend"])
	assert.Equal(t, "created tables", record["msg"])
}

func TestLoggerLevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLeveledLogger(buf, slog.LevelWarn)
	logger.Info("dropped")
	logger.Debug("dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestZeroLogger(t *testing.T) {
	logger := Logger{}
	assert.NotPanics(t, func() {
		logger.Error("nothing happens")
		logger.WarnNs("lake", "nothing happens", KV{"batch": 1})
	})
}

func TestKVArgs(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		kvs       []KV
		want      []any
	}{
		{name: "nothing", want: []any{}},
		{
			name: "sorted by key",
			kvs:  []KV{{"rows": 300, "backend": "mongo", "batch": 2}},
			want: []any{"backend", "mongo", "batch", 2, "rows", 300},
		},
		{
			name: "only the first set",
			kvs:  []KV{{"seed": uint64(5)}, {"password": "hunter2"}},
			want: []any{"seed", uint64(5)},
		},
		{
			name:      "namespace leads",
			namespace: "orchestrator",
			kvs:       []KV{{"batch": 0, "about": "x"}},
			want:      []any{"ns", "orchestrator", "about", "x", "batch", 0},
		},
		{
			name:      "namespace alone",
			namespace: "ralphstore",
			want:      []any{"ns", "ralphstore"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.namespace == "" {
				assert.Equal(t, tt.want, kvToArgs(tt.kvs...))
				return
			}
			assert.Equal(t, tt.want, kvToArgsNs(tt.namespace, tt.kvs...))
		})
	}
}

func TestLoggerNamespaceComesFirst(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(buf)
	logger.WarnNs("sqlstore", "slow ping", KV{"attempt": 2, "backend": "citus"})

	line := buf.String()
	ns := strings.Index(line, `"ns":"sqlstore"`)
	attempt := strings.Index(line, `"attempt":2`)
	backendAt := strings.Index(line, `"backend":"citus"`)
	require.NotEqual(t, -1, ns, line)
	assert.Less(t, ns, attempt)
	assert.Less(t, attempt, backendAt)
	assert.Contains(t, line, `"level":"WARN"`)
}
