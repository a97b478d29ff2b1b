package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
)

func TestPasses(t *testing.T) {
	tests := []struct {
		name      string
		sev       otellog.Severity
		threshold otellog.Severity
		want      bool
	}{
		{"below", otellog.SeverityInfo, otellog.SeverityWarn, false},
		{"equal", otellog.SeverityWarn, otellog.SeverityWarn, true},
		{"above", otellog.SeverityError, otellog.SeverityWarn, true},
		{"in-between level above", otellog.SeverityWarn2, otellog.SeverityWarn, true},
		{"undefined never passes", otellog.SeverityUndefined, otellog.SeverityTrace, false},
		{"undefined against undefined", otellog.SeverityUndefined, otellog.SeverityUndefined, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Passes(tt.sev, tt.threshold))
		})
	}
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity("WARNING")
	require.NoError(t, err)
	assert.Equal(t, otellog.SeverityWarn, sev)

	sev, err = ParseSeverity(" error ")
	require.NoError(t, err)
	assert.Equal(t, otellog.SeverityError, sev)

	_, err = ParseSeverity("loud")
	assert.Error(t, err)
}

func TestSeverityFromSlog(t *testing.T) {
	assert.Equal(t, otellog.SeverityDebug, SeverityFromSlog(slog.LevelDebug))
	assert.Equal(t, otellog.SeverityInfo, SeverityFromSlog(slog.LevelInfo))
	assert.Equal(t, otellog.SeverityWarn, SeverityFromSlog(slog.LevelWarn))
	assert.Equal(t, otellog.SeverityError, SeverityFromSlog(slog.LevelError))
	assert.Equal(t, otellog.SeverityInfo2, SeverityFromSlog(slog.LevelInfo+1))
	assert.Equal(t, otellog.SeverityTrace1, SeverityFromSlog(slog.Level(-100)))
	assert.Equal(t, otellog.SeverityFatal4, SeverityFromSlog(slog.Level(100)))
}

func TestSeverityText(t *testing.T) {
	assert.Equal(t, "", SeverityText(otellog.SeverityUndefined))
	assert.Equal(t, "TRACE", SeverityText(otellog.SeverityTrace3))
	assert.Equal(t, "INFO", SeverityText(otellog.SeverityInfo4))
	assert.Equal(t, "ERROR", SeverityText(otellog.SeverityError))
	assert.Equal(t, "FATAL", SeverityText(otellog.SeverityFatal2))
}

func TestResource(t *testing.T) {
	res := NewResource(map[string]string{ServiceNameKey: "svc", "b": "2"})
	assert.Equal(t, 2, res.Len())

	v, ok := res.Value(ServiceNameKey)
	assert.True(t, ok)
	assert.Equal(t, "svc", v)

	merged := res.Merge(map[string]string{"b": "3", "c": "4"})
	assert.Equal(t, map[string]string{ServiceNameKey: "svc", "b": "3", "c": "4"}, merged.Map())
	// original untouched
	assert.Equal(t, "2", res.Map()["b"])

	attrs := merged.Attributes()
	require.Len(t, attrs, 3)
	assert.Equal(t, "b", string(attrs[0].Key))
}
