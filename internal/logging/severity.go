package logging

import (
	"fmt"
	"log/slog"
	"strings"

	otellog "go.opentelemetry.io/otel/log"
)

// Passes reports whether a record with severity sev is eligible for export
// under threshold. Records without a severity never pass.
func Passes(sev, threshold otellog.Severity) bool {
	return sev != otellog.SeverityUndefined && sev >= threshold
}

// ParseSeverity maps a level name to its base severity.
func ParseSeverity(s string) (otellog.Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return otellog.SeverityTrace, nil
	case "debug":
		return otellog.SeverityDebug, nil
	case "info":
		return otellog.SeverityInfo, nil
	case "warn", "warning":
		return otellog.SeverityWarn, nil
	case "error":
		return otellog.SeverityError, nil
	case "fatal":
		return otellog.SeverityFatal, nil
	}
	return otellog.SeverityUndefined, fmt.Errorf("unknown severity %q", s)
}

// SeverityFromSlog maps slog levels onto the OpenTelemetry severity scale.
// slog levels are 4 apart, so levels between the named ones land on the
// in-between severities (Info2, Info3...).
func SeverityFromSlog(level slog.Level) otellog.Severity {
	sev := otellog.Severity(int(level) + int(otellog.SeverityInfo))
	switch {
	case sev < otellog.SeverityTrace1:
		return otellog.SeverityTrace1
	case sev > otellog.SeverityFatal4:
		return otellog.SeverityFatal4
	}
	return sev
}

// SeverityText returns the short upper-case name of the base level of sev.
func SeverityText(sev otellog.Severity) string {
	switch {
	case sev == otellog.SeverityUndefined:
		return ""
	case sev < otellog.SeverityDebug:
		return "TRACE"
	case sev < otellog.SeverityInfo:
		return "DEBUG"
	case sev < otellog.SeverityWarn:
		return "INFO"
	case sev < otellog.SeverityError:
		return "WARN"
	case sev < otellog.SeverityFatal:
		return "ERROR"
	}
	return "FATAL"
}
