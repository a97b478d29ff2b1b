package logging

import (
	"fmt"
	"sort"
	"strings"

	otellog "go.opentelemetry.io/otel/log"
)

// SeverityOff is above every real severity; a target set to "off" emits
// nothing.
const SeverityOff = otellog.SeverityFatal4 + 1

// LevelFilter maps targets to their minimum severity. It is parsed from a
// comma separated list of directives such as "info,db=debug,db.pool=off".
// A bare level sets the default, a bare target enables everything for it.
type LevelFilter struct {
	fallback   otellog.Severity
	directives []levelDirective
}

type levelDirective struct {
	prefix string
	min    otellog.Severity
}

// ParseLevelFilter parses s. An empty string gives Info for every target.
func ParseLevelFilter(s string) (LevelFilter, error) {
	f := LevelFilter{fallback: otellog.SeverityInfo}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, level, hasLevel := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !hasLevel {
			if sev, err := parseFilterLevel(name); err == nil {
				f.fallback = sev
				continue
			}
			f.directives = append(f.directives, levelDirective{prefix: name, min: otellog.SeverityTrace})
			continue
		}

		if name == "" {
			return LevelFilter{}, fmt.Errorf("level directive %q has no target", part)
		}
		sev, err := parseFilterLevel(level)
		if err != nil {
			return LevelFilter{}, fmt.Errorf("level directive %q: %w", part, err)
		}
		f.directives = append(f.directives, levelDirective{prefix: name, min: sev})
	}

	// longest prefix first; later duplicates win
	sort.SliceStable(f.directives, func(i, j int) bool {
		return len(f.directives[i].prefix) > len(f.directives[j].prefix)
	})
	for i := len(f.directives) - 1; i > 0; i-- {
		if f.directives[i].prefix == f.directives[i-1].prefix {
			f.directives = append(f.directives[:i-1], f.directives[i:]...)
		}
	}
	return f, nil
}

func parseFilterLevel(s string) (otellog.Severity, error) {
	if strings.EqualFold(strings.TrimSpace(s), "off") {
		return SeverityOff, nil
	}
	return ParseSeverity(s)
}

// MinSeverity is the threshold applied to target: the directive with the
// longest prefix of target, or the default.
func (f LevelFilter) MinSeverity(target string) otellog.Severity {
	for _, d := range f.directives {
		if strings.HasPrefix(target, d.prefix) {
			return d.min
		}
	}
	return f.fallback
}

// Lowest is the smallest threshold of any target.
func (f LevelFilter) Lowest() otellog.Severity {
	lowest := f.fallback
	for _, d := range f.directives {
		if d.min < lowest {
			lowest = d.min
		}
	}
	return lowest
}

// Allows reports whether a record of severity sev from target passes.
func (f LevelFilter) Allows(target string, sev otellog.Severity) bool {
	return sev >= f.MinSeverity(target)
}
