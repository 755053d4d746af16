package types

import (
	"reflect"
)

// Resource is a uniquely keyed entity discovered during a run.
type Resource struct {
	Key     string         `json:"key" yaml:"key"`
	ID      string         `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Data    map[string]any `json:"data" yaml:"data"`
	Sources []string       `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Clone returns a deep copy of r.
func (r Resource) Clone() Resource {
	out := r
	out.Sources = append([]string(nil), r.Sources...)
	if r.Data != nil {
		out.Data = cloneValue(r.Data).(map[string]any)
	}
	return out
}

// Merge folds other into r. Nested maps are merged key by key and lists are
// unioned. Scalars already present are kept unless override is set.
func (r *Resource) Merge(other Resource, override bool) {
	if r.ID == "" || (override && other.ID != "") {
		r.ID = other.ID
	}
	if r.Type == "" || (override && other.Type != "") {
		r.Type = other.Type
	}
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	mergeMaps(r.Data, other.Data, override)
	for _, src := range other.Sources {
		if !containsString(r.Sources, src) {
			r.Sources = append(r.Sources, src)
		}
	}
}

func mergeMaps(dst, src map[string]any, override bool) {
	for k, sv := range src {
		dv, exists := dst[k]
		if !exists {
			dst[k] = cloneValue(sv)
			continue
		}
		dst[k] = mergeValue(dv, sv, override)
	}
}

func mergeValue(dst, src any, override bool) any {
	switch d := dst.(type) {
	case map[string]any:
		if s, ok := src.(map[string]any); ok {
			mergeMaps(d, s, override)
			return d
		}
	case []any:
		if s, ok := src.([]any); ok {
			for _, item := range s {
				if !containsValue(d, item) {
					d = append(d, cloneValue(item))
				}
			}
			return d
		}
	case []string:
		if s, ok := src.([]string); ok {
			for _, item := range s {
				if !containsString(d, item) {
					d = append(d, item)
				}
			}
			return d
		}
	}
	if override || dst == nil {
		return cloneValue(src)
	}
	return dst
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, item := range t {
			out[k] = item
		}
		return out
	case DomainInfo:
		t.Nameservers = append([]string(nil), t.Nameservers...)
		if t.DaysUntilExpires != nil {
			days := *t.DaysUntilExpires
			t.DaysUntilExpires = &days
		}
		return t
	default:
		return v
	}
}

// Resources holds resources keyed by Resource.Key in insertion order.
// There is no removal: once added a resource stays for the whole run.
type Resources struct {
	keys  []string
	items map[string]*Resource
}

func NewResources() *Resources {
	return &Resources{items: make(map[string]*Resource)}
}

// Upsert adds res, or merges it into the resource already stored under the
// same key. It reports whether the key was new.
func (r *Resources) Upsert(res Resource, override bool) bool {
	if existing, ok := r.items[res.Key]; ok {
		existing.Merge(res, override)
		return false
	}
	stored := res.Clone()
	if stored.Data == nil {
		stored.Data = make(map[string]any)
	}
	r.items[res.Key] = &stored
	r.keys = append(r.keys, res.Key)
	return true
}

// Get returns a copy of the resource stored under key.
func (r *Resources) Get(key string) (Resource, bool) {
	res, ok := r.items[key]
	if !ok {
		return Resource{}, false
	}
	return res.Clone(), true
}

func (r *Resources) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Resources) Len() int { return len(r.keys) }

func (r *Resources) clone() *Resources {
	out := NewResources()
	for _, k := range r.keys {
		res := r.items[k].Clone()
		out.items[k] = &res
		out.keys = append(out.keys, k)
	}
	return out
}

func (r *Resources) MarshalJSON() ([]byte, error) {
	return marshalOrderedJSON(r.keys, func(k string) any { return r.items[k] })
}

func (r *Resources) MarshalYAML() (interface{}, error) {
	return orderedYAMLNode(r.keys, func(k string) any { return r.items[k] })
}
