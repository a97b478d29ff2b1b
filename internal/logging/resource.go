package logging

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	ServiceNameKey       = "service.name"
	HostNameKey          = "host.name"
	ServiceInstanceIDKey = "service.instance.id"
)

// Resource describes the emitting process. It is immutable and safe to
// share between goroutines.
type Resource struct {
	set attribute.Set
}

func NewResource(attrs map[string]string) Resource {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return Resource{set: attribute.NewSet(kvs...)}
}

// Merge returns a resource holding the attributes of r overridden by extra.
func (r Resource) Merge(extra map[string]string) Resource {
	merged := r.Map()
	for k, v := range extra {
		merged[k] = v
	}
	return NewResource(merged)
}

func (r Resource) Len() int { return r.set.Len() }

// Value returns the attribute stored under key.
func (r Resource) Value(key string) (string, bool) {
	v, ok := r.set.Value(attribute.Key(key))
	if !ok {
		return "", false
	}
	return v.Emit(), true
}

// Attributes returns the attributes sorted by key.
func (r Resource) Attributes() []attribute.KeyValue {
	return r.set.ToSlice()
}

func (r Resource) Map() map[string]string {
	out := make(map[string]string, r.set.Len())
	iter := r.set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
