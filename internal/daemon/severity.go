package daemon

import (
	"encoding/json"
	"strings"

	otellog "go.opentelemetry.io/otel/log"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

// leading tokens inspected for a level keyword
const maxLevelTokens = 4

var levelFields = []string{"level", "severity", "lvl"}

var keywordAliases = map[string]string{
	"err":      "error",
	"crit":     "fatal",
	"critical": "fatal",
	"panic":    "fatal",
	"dbg":      "debug",
	"wrn":      "warn",
	"inf":      "info",
}

// DetectSeverity guesses the severity of a raw log line. JSON lines are
// checked for a level field, other lines for a level keyword among their
// first few tokens, e.g. "ERROR ...", "[warn] ..." or "level=info ...".
// Lines without a recognisable level are SeverityUndefined.
func DetectSeverity(line string) otellog.Severity {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			for _, name := range levelFields {
				if v, ok := fields[name].(string); ok {
					if sev, ok := parseKeyword(v); ok {
						return sev
					}
				}
			}
			return otellog.SeverityUndefined
		}
	}

	tokens := strings.Fields(trimmed)
	if len(tokens) > maxLevelTokens {
		tokens = tokens[:maxLevelTokens]
	}
	for _, tok := range tokens {
		for _, prefix := range []string{"level=", "severity=", "lvl="} {
			tok = strings.TrimPrefix(strings.ToLower(tok), prefix)
		}
		tok = strings.Trim(tok, `[]():"`)
		if sev, ok := parseKeyword(tok); ok {
			return sev
		}
	}
	return otellog.SeverityUndefined
}

func parseKeyword(s string) (otellog.Severity, bool) {
	s = strings.ToLower(s)
	if alias, ok := keywordAliases[s]; ok {
		s = alias
	}
	sev, err := logging.ParseSeverity(s)
	return sev, err == nil
}
