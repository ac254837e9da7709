package model

import (
	"net/http"
	"slices"
	"strings"
)

// Field is a single header name with all of its values in arrival order.
type Field struct {
	Name   string
	Values []string
}

// Header is an ordered multimap of header fields. Names compare
// case-insensitively; the spelling of the first insertion is kept.
// The zero value is an empty header ready to use.
type Header struct {
	fields []Field
}

// HeaderFromHTTP copies h into a Header. http.Header carries no field order,
// so names are imported sorted to keep output deterministic.
func HeaderFromHTTP(h http.Header) Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)

	var out Header
	for _, name := range names {
		for _, v := range h[name] {
			out.Add(name, v)
		}
	}
	return out
}

func (h *Header) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			return i
		}
	}
	return -1
}

// Add appends value to the field name, creating it when absent.
func (h *Header) Add(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].Values = append(h.fields[i].Values, value)
		return
	}
	h.fields = append(h.fields, Field{Name: name, Values: []string{value}})
}

// Set replaces all values of name, keeping the field's position.
// Setting no values removes the field.
func (h *Header) Set(name string, values ...string) {
	if len(values) == 0 {
		h.Del(name)
		return
	}
	vals := slices.Clone(values)
	if i := h.index(name); i >= 0 {
		h.fields[i].Values = vals
		return
	}
	h.fields = append(h.fields, Field{Name: name, Values: vals})
}

// Get returns the first value of name or "".
func (h Header) Get(name string) string {
	if i := h.index(name); i >= 0 && len(h.fields[i].Values) > 0 {
		return h.fields[i].Values[0]
	}
	return ""
}

// Values returns a copy of every value of name.
func (h Header) Values(name string) []string {
	if i := h.index(name); i >= 0 {
		return slices.Clone(h.fields[i].Values)
	}
	return nil
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	return h.index(name) >= 0
}

// Del removes name.
func (h *Header) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = slices.Delete(h.fields, i, i+1)
	}
}

// Len returns the number of distinct field names.
func (h Header) Len() int {
	return len(h.fields)
}

// Fields returns a deep copy of the fields in order.
func (h Header) Fields() []Field {
	out := make([]Field, len(h.fields))
	for i, f := range h.fields {
		out[i] = Field{Name: f.Name, Values: slices.Clone(f.Values)}
	}
	return out
}

// Clone returns an independent copy of h.
func (h Header) Clone() Header {
	return Header{fields: h.Fields()}
}

// HTTP converts h into an http.Header.
func (h Header) HTTP() http.Header {
	out := make(http.Header, len(h.fields))
	h.WriteTo(out)
	return out
}

// WriteTo adds every value of h to dst.
func (h Header) WriteTo(dst http.Header) {
	for _, f := range h.fields {
		for _, v := range f.Values {
			dst.Add(f.Name, v)
		}
	}
}
