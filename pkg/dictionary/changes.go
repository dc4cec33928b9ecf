package dictionary

import (
	"reflect"
	"slices"
	"strings"
)

// ChangeType describes how an attribute moved between two versions.
type ChangeType string

// Change types reported by Compare.
const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Restriction names tracked by the change analysis.
const (
	RestrictionCodeList = "codeList"
	RestrictionRegex    = "regex"
	RestrictionRequired = "required"
	RestrictionRange    = "range"
	RestrictionScript   = "script"
)

var restrictionNames = []string{RestrictionRegex, RestrictionScript, RestrictionRequired, RestrictionCodeList, RestrictionRange}

// Change is one attribute level difference. Data holds the new value for
// created and updated changes and the old value for deletions.
type Change struct {
	Type ChangeType `json:"type"`
	Data any        `json:"data,omitempty"`
}

// FieldDiff is the difference of one field between two versions. Created and
// deleted fields carry the full definition; updated fields carry per attribute
// changes.
type FieldDiff struct {
	Type         ChangeType        `json:"type"`
	Definition   *FieldDefinition  `json:"definition,omitempty"`
	ValueType    *Change           `json:"valueType,omitempty"`
	IsArray      *Change           `json:"isArray,omitempty"`
	Core         *Change           `json:"core,omitempty"`
	Restrictions map[string]Change `json:"restrictions,omitempty"`
}

// FieldChanges maps a "schema.field" path to its difference.
type FieldChanges map[string]FieldDiff

// Paths returns the changed paths in sorted order.
func (c FieldChanges) Paths() []string {
	paths := make([]string, 0, len(c))
	for p := range c {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// FieldPath joins a schema and field name.
func FieldPath(schema, field string) string { return schema + "." + field }

// EntityOfPath returns the schema part of a "schema.field" path.
func EntityOfPath(path string) string {
	entity, _, _ := strings.Cut(path, ".")
	return entity
}

// Compare computes the field level differences between two dictionary
// versions.
func Compare(from, to Dictionary) FieldChanges {
	changes := FieldChanges{}
	oldFields := indexFields(from)
	newFields := indexFields(to)
	for path, oldField := range oldFields {
		newField, ok := newFields[path]
		if !ok {
			def := oldField
			changes[path] = FieldDiff{Type: ChangeDeleted, Definition: &def}
			continue
		}
		if diff, changed := compareField(oldField, newField); changed {
			changes[path] = diff
		}
	}
	for path, newField := range newFields {
		if _, ok := oldFields[path]; !ok {
			def := newField
			changes[path] = FieldDiff{Type: ChangeCreated, Definition: &def}
		}
	}
	return changes
}

func indexFields(d Dictionary) map[string]FieldDefinition {
	out := make(map[string]FieldDefinition)
	for _, schema := range d.Schemas {
		for _, field := range schema.Fields {
			out[FieldPath(schema.Name, field.Name)] = field
		}
	}
	return out
}

func compareField(oldField, newField FieldDefinition) (FieldDiff, bool) {
	diff := FieldDiff{Type: ChangeUpdated}
	changed := false
	if oldField.ValueType != newField.ValueType {
		diff.ValueType = &Change{Type: ChangeUpdated, Data: newField.ValueType}
		changed = true
	}
	if oldField.IsArray != newField.IsArray {
		diff.IsArray = &Change{Type: ChangeUpdated, Data: newField.IsArray}
		changed = true
	}
	if oldField.IsCore() != newField.IsCore() {
		if newField.IsCore() {
			diff.Core = &Change{Type: ChangeCreated, Data: true}
		} else {
			diff.Core = &Change{Type: ChangeDeleted, Data: true}
		}
		changed = true
	}
	oldR := restrictionValues(oldField.Restrictions)
	newR := restrictionValues(newField.Restrictions)
	for _, name := range restrictionNames {
		before, hadBefore := oldR[name]
		after, hasAfter := newR[name]
		var change *Change
		switch {
		case !hadBefore && hasAfter:
			change = &Change{Type: ChangeCreated, Data: after}
		case hadBefore && !hasAfter:
			change = &Change{Type: ChangeDeleted, Data: before}
		case hadBefore && hasAfter && !reflect.DeepEqual(before, after):
			change = &Change{Type: ChangeUpdated, Data: after}
		}
		if change == nil {
			continue
		}
		if diff.Restrictions == nil {
			diff.Restrictions = map[string]Change{}
		}
		diff.Restrictions[name] = *change
		changed = true
	}
	return diff, changed
}

// restrictionValues lists the restrictions that are set. A required flag of
// false counts as unset.
func restrictionValues(r *Restrictions) map[string]any {
	out := map[string]any{}
	if r == nil {
		return out
	}
	if len(r.CodeList) > 0 {
		out[RestrictionCodeList] = []string(r.CodeList)
	}
	if r.Regex != "" {
		out[RestrictionRegex] = r.Regex
	}
	if len(r.Script) > 0 {
		out[RestrictionScript] = []string(r.Script)
	}
	if r.Required {
		out[RestrictionRequired] = true
	}
	if r.Range != nil {
		out[RestrictionRange] = *r.Range
	}
	return out
}
