// Package dictionary models versioned data dictionaries, processes raw
// string records against them, and analyses the differences between two
// dictionary versions.
package dictionary

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValueType names the declared type of a dictionary field.
type ValueType string

// Supported field value types.
const (
	ValueTypeString  ValueType = "string"
	ValueTypeInteger ValueType = "integer"
	ValueTypeNumber  ValueType = "number"
	ValueTypeBoolean ValueType = "boolean"
)

// Dictionary is one published version of a named set of entity schemas.
type Dictionary struct {
	Name    string             `json:"name" yaml:"name"`
	Version string             `json:"version" yaml:"version"`
	Schemas []SchemaDefinition `json:"schemas" yaml:"schemas"`
}

// SchemaDefinition describes the fields of one entity.
type SchemaDefinition struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []FieldDefinition `json:"fields" yaml:"fields"`
}

// FieldDefinition describes a single schema field.
type FieldDefinition struct {
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	ValueType    ValueType     `json:"valueType" yaml:"valueType"`
	IsArray      bool          `json:"isArray,omitempty" yaml:"isArray,omitempty"`
	Meta         *FieldMeta    `json:"meta,omitempty" yaml:"meta,omitempty"`
	Restrictions *Restrictions `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
}

// FieldMeta carries non-validating annotations.
type FieldMeta struct {
	Key      bool   `json:"key,omitempty" yaml:"key,omitempty"`
	Default  string `json:"default,omitempty" yaml:"default,omitempty"`
	Core     bool   `json:"core,omitempty" yaml:"core,omitempty"`
	Examples string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Restrictions are the validating constraints of a field.
type Restrictions struct {
	CodeList CodeList `json:"codeList,omitempty" yaml:"codeList,omitempty"`
	Regex    string   `json:"regex,omitempty" yaml:"regex,omitempty"`
	Script   Scripts  `json:"script,omitempty" yaml:"script,omitempty"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Range    *Range   `json:"range,omitempty" yaml:"range,omitempty"`
}

// Range bounds numeric values. Nil bounds are open.
type Range struct {
	Min          *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	ExclusiveMin *float64 `json:"exclusiveMin,omitempty" yaml:"exclusiveMin,omitempty"`
	ExclusiveMax *float64 `json:"exclusiveMax,omitempty" yaml:"exclusiveMax,omitempty"`
}

// CodeList is the set of permissible values of a field. Published
// dictionaries mix strings and numbers, so both decode into strings.
type CodeList []string

// UnmarshalJSON accepts an array of strings and numbers.
func (c *CodeList) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("codeList: %w", err)
	}
	out := make(CodeList, 0, len(raw))
	for _, v := range raw {
		out = append(out, stringifyScalar(v))
	}
	*c = out
	return nil
}

// UnmarshalYAML accepts a sequence of scalars.
func (c *CodeList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("codeList: expected sequence, got %v", node.Tag)
	}
	out := make(CodeList, 0, len(node.Content))
	for _, item := range node.Content {
		out = append(out, item.Value)
	}
	*c = out
	return nil
}

// Contains reports whether value is a member of the list.
func (c CodeList) Contains(value string) bool {
	for _, code := range c {
		if code == value {
			return true
		}
	}
	return false
}

// Scripts holds one or more validation scripts. A single string decodes to a
// one element list.
type Scripts []string

// UnmarshalJSON accepts a string or an array of strings.
func (s *Scripts) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = Scripts{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	*s = many
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence.
func (s *Scripts) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = Scripts{node.Value}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return fmt.Errorf("script: %w", err)
		}
		*s = many
		return nil
	default:
		return fmt.Errorf("script: unsupported node kind %v", node.Kind)
	}
}

// Schema returns the schema with the given name.
func (d Dictionary) Schema(name string) (SchemaDefinition, bool) {
	for _, s := range d.Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return SchemaDefinition{}, false
}

// Field returns the field definition with the given name.
func (s SchemaDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// FieldNames lists field names in declaration order.
func (s SchemaDefinition) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// IsCore reports whether the field is flagged as core.
func (f FieldDefinition) IsCore() bool {
	return f.Meta != nil && f.Meta.Core
}

func (f FieldDefinition) isRequired() bool {
	return f.Restrictions != nil && f.Restrictions.Required
}

func (f FieldDefinition) codeList() CodeList {
	if f.Restrictions == nil {
		return nil
	}
	return f.Restrictions.CodeList
}

func (f FieldDefinition) examples() string {
	if f.Meta == nil {
		return ""
	}
	return f.Meta.Examples
}

// Record is a raw submitted row: every value is either a string or a slice of
// strings. The pseudo-field "index" is never part of a record.
type Record map[string]any

// TypedRecord is a record after conversion to declared value types. Values
// are string, float64, bool, or slices of those.
type TypedRecord map[string]any

// Clone returns a shallow copy with slice values copied.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// String returns the scalar string value of field, or "" if absent or not a
// string.
func (r Record) String(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy with slice values copied.
func (r TypedRecord) Clone() TypedRecord {
	if r == nil {
		return nil
	}
	out := make(TypedRecord, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	case []bool:
		return append([]bool(nil), val...)
	case []any:
		return append([]any(nil), val...)
	default:
		return v
	}
}

func stringifyScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
