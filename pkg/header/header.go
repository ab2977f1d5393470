// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package header provides an ordered, case-insensitive HTTP header map.
//
// Unlike net/http.Header, keys keep the casing they were first written with,
// so a serialized response reproduces the names chosen by the handler.
package header

import (
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Map stores header fields in insertion order. Lookups fold case; a name
// may carry several values, all of which are emitted on serialization.
// The zero value is ready to use.
type Map struct {
	fields []Field
}

// New returns a map holding the given fields in order.
func New(fields ...Field) *Map {
	m := &Map{}
	for _, f := range fields {
		m.Add(f.Name, f.Value)
	}
	return m
}

// Add appends a value for name, keeping any existing values.
func (m *Map) Add(name, value string) {
	m.fields = append(m.fields, Field{Name: name, Value: value})
}

// Set replaces every value of name with value. The position of the first
// existing occurrence is kept.
func (m *Map) Set(name, value string) {
	for i := range m.fields {
		if strings.EqualFold(m.fields[i].Name, name) {
			m.fields[i].Value = value
			m.removeFrom(i+1, name)
			return
		}
	}
	m.Add(name, value)
}

// Get returns the first value of name, or "" when absent.
func (m *Map) Get(name string) string {
	v, _ := m.Lookup(name)
	return v
}

// Lookup returns the first value of name and whether it exists.
func (m *Map) Lookup(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, f := range m.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns all values of name in insertion order.
func (m *Map) Values(name string) []string {
	if m == nil {
		return nil
	}
	var vals []string
	for _, f := range m.fields {
		if strings.EqualFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Has reports whether name is present.
func (m *Map) Has(name string) bool {
	_, ok := m.Lookup(name)
	return ok
}

// Del removes every value of name.
func (m *Map) Del(name string) {
	m.removeFrom(0, name)
}

// Len returns the number of fields, counting repeated names.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Fields returns a copy of the fields in insertion order.
func (m *Map) Fields() []Field {
	if m == nil {
		return nil
	}
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	return New(m.Fields()...)
}

func (m *Map) removeFrom(start int, name string) {
	kept := m.fields[:start]
	for _, f := range m.fields[start:] {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	m.fields = kept
}
