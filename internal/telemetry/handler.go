package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

// Attribute keys that set a record's target instead of becoming attributes.
const (
	ModuleKey = "module"
	TargetKey = "target"
)

// Handler is an slog.Handler feeding every pipeline of an Otel.
// Groups opened with WithGroup name the target module, nested groups are
// joined with a dot.
type Handler struct {
	otel   *Otel
	target string
	attrs  map[string]string
}

// Handler returns the slog bridge for o.
func (o *Otel) Handler() *Handler {
	return &Handler{otel: o}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return logging.SeverityFromSlog(level) >= h.otel.minLevel
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	now := time.Now()
	sev := logging.SeverityFromSlog(r.Level)
	rec := logging.LogRecord{
		Timestamp:         r.Time,
		ObservedTimestamp: now,
		Severity:          sev,
		SeverityText:      logging.SeverityText(sev),
		Body:              r.Message,
		Target:            h.target,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		rec.Attributes = make(map[string]string, len(h.attrs)+r.NumAttrs())
		for k, v := range h.attrs {
			rec.Attributes[k] = v
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(rec.Attributes, &rec.Target, "", a)
			return true
		})
		if len(rec.Attributes) == 0 {
			rec.Attributes = nil
		}
	}

	if !h.otel.levels.Allows(rec.Target, sev) || h.otel.disallowed(rec.Target, rec.Body) {
		return nil
	}
	if h.otel.echo != nil {
		echoRecord(h.otel.echo, rec)
	}
	return h.otel.emit(rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := h.clone()
	for _, a := range attrs {
		addAttr(next.attrs, &next.target, "", a)
	}
	return next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	if next.target == "" {
		next.target = name
	} else {
		next.target += "." + name
	}
	return next
}

func (h *Handler) clone() *Handler {
	attrs := make(map[string]string, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &Handler{otel: h.otel, target: h.target, attrs: attrs}
}

// addAttr flattens a into attrs. Group attributes become dotted keys.
func addAttr(attrs map[string]string, target *string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(attrs, target, groupPrefix, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if prefix == "" && (a.Key == ModuleKey || a.Key == TargetKey) {
		*target = v.String()
		return
	}
	attrs[prefix+a.Key] = v.String()
}

func echoRecord(logger *zerolog.Logger, rec logging.LogRecord) {
	event := logger.WithLevel(zerologLevel(rec.Severity)).Time(zerolog.TimestampFieldName, rec.Timestamp)
	if rec.Target != "" {
		event = event.Str(ModuleKey, rec.Target)
	}
	for k, v := range rec.Attributes {
		event = event.Str(k, v)
	}
	event.Msg(rec.Body)
}

func zerologLevel(sev otellog.Severity) zerolog.Level {
	switch strings.ToLower(logging.SeverityText(sev)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	}
	return zerolog.NoLevel
}

var _ slog.Handler = (*Handler)(nil)
