package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
)

func TestParseLevelFilter(t *testing.T) {
	f, err := ParseLevelFilter("info, db=debug, db.pool=off, noisy=error, tracer")
	require.NoError(t, err)

	tests := []struct {
		target string
		want   otellog.Severity
	}{
		{"", otellog.SeverityInfo},
		{"app", otellog.SeverityInfo},
		{"db", otellog.SeverityDebug},
		{"db.query", otellog.SeverityDebug},
		{"db.pool", SeverityOff},
		{"db.pool.conn", SeverityOff},
		{"noisy", otellog.SeverityError},
		{"tracer", otellog.SeverityTrace},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, f.MinSeverity(tt.target))
		})
	}

	assert.Equal(t, otellog.SeverityTrace, f.Lowest())
	assert.True(t, f.Allows("db", otellog.SeverityDebug))
	assert.False(t, f.Allows("db.pool", otellog.SeverityFatal))
	assert.False(t, f.Allows("app", otellog.SeverityDebug))
}

func TestParseLevelFilter_Defaults(t *testing.T) {
	f, err := ParseLevelFilter("")
	require.NoError(t, err)
	assert.Equal(t, otellog.SeverityInfo, f.MinSeverity("anything"))
	assert.Equal(t, otellog.SeverityInfo, f.Lowest())

	f, err = ParseLevelFilter("warn")
	require.NoError(t, err)
	assert.Equal(t, otellog.SeverityWarn, f.MinSeverity("app"))
}

func TestParseLevelFilter_LaterDirectiveWins(t *testing.T) {
	f, err := ParseLevelFilter("db=error,db=debug")
	require.NoError(t, err)
	assert.Equal(t, otellog.SeverityDebug, f.MinSeverity("db"))
}

func TestParseLevelFilter_Errors(t *testing.T) {
	for _, s := range []string{"db=loud", "=debug", "info,mod="} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseLevelFilter(s)
			assert.Error(t, err)
		})
	}
}
