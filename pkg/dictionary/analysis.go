package dictionary

// AddedField is a field present only in the newer version.
type AddedField struct {
	Name       string          `json:"name"`
	Definition FieldDefinition `json:"definition"`
}

// RestrictionChange records a restriction change on one field path.
type RestrictionChange struct {
	Field      string `json:"field"`
	Definition any    `json:"definition"`
}

// RestrictionChangeSet groups restriction changes by change type.
type RestrictionChangeSet struct {
	Created []RestrictionChange `json:"created"`
	Updated []RestrictionChange `json:"updated"`
	Deleted []RestrictionChange `json:"deleted"`
}

func (s *RestrictionChangeSet) add(t ChangeType, rc RestrictionChange) {
	switch t {
	case ChangeCreated:
		s.Created = append(s.Created, rc)
	case ChangeUpdated:
		s.Updated = append(s.Updated, rc)
	case ChangeDeleted:
		s.Deleted = append(s.Deleted, rc)
	}
}

// RestrictionsChanges holds the change sets for every restriction kind.
type RestrictionsChanges struct {
	CodeList RestrictionChangeSet `json:"codeList"`
	Regex    RestrictionChangeSet `json:"regex"`
	Required RestrictionChangeSet `json:"required"`
	Script   RestrictionChangeSet `json:"script"`
	Range    RestrictionChangeSet `json:"range"`
}

func (r *RestrictionsChanges) set(name string) *RestrictionChangeSet {
	switch name {
	case RestrictionCodeList:
		return &r.CodeList
	case RestrictionRegex:
		return &r.Regex
	case RestrictionRequired:
		return &r.Required
	case RestrictionScript:
		return &r.Script
	case RestrictionRange:
		return &r.Range
	}
	return nil
}

// FieldsChanges lists added, renamed and deleted fields.
type FieldsChanges struct {
	AddedFields   []AddedField `json:"addedFields"`
	RenamedFields []string     `json:"renamedFields"`
	DeletedFields []string     `json:"deletedFields"`
}

// CoreChanges lists fields whose core designation flipped.
type CoreChanges struct {
	ChangedToCore   []string `json:"changedToCore"`
	ChangedFromCore []string `json:"changedFromCore"`
}

// MetaChanges wraps the meta attribute changes.
type MetaChanges struct {
	Core CoreChanges `json:"core"`
}

// ValueTypeChange records a declared type change of one field path.
type ValueTypeChange struct {
	Field string    `json:"field"`
	From  ValueType `json:"from"`
	To    ValueType `json:"to"`
}

// ChangeAnalysis categorises the differences between two versions.
type ChangeAnalysis struct {
	Fields                    FieldsChanges       `json:"fields"`
	IsArrayDesignationChanges []string            `json:"isArrayDesignationChanges"`
	ValueTypeChanges          []ValueTypeChange   `json:"valueTypeChanges"`
	RestrictionsChanges       RestrictionsChanges `json:"restrictionsChanges"`
	MetaChanges               MetaChanges         `json:"metaChanges"`
}

// AnalyzeChanges compares two versions and categorises every difference.
func AnalyzeChanges(from, to Dictionary) ChangeAnalysis {
	return Categorize(Compare(from, to), from)
}

// Categorize turns a raw diff into a ChangeAnalysis. from supplies the old
// value types of updated fields.
func Categorize(changes FieldChanges, from Dictionary) ChangeAnalysis {
	var analysis ChangeAnalysis
	oldFields := indexFields(from)
	for _, path := range changes.Paths() {
		diff := changes[path]
		switch diff.Type {
		case ChangeCreated:
			if diff.Definition != nil {
				analysis.Fields.AddedFields = append(analysis.Fields.AddedFields, AddedField{Name: path, Definition: *diff.Definition})
			}
			continue
		case ChangeDeleted:
			analysis.Fields.DeletedFields = append(analysis.Fields.DeletedFields, path)
			continue
		}
		if diff.Core != nil {
			switch diff.Core.Type {
			case ChangeCreated, ChangeUpdated:
				analysis.MetaChanges.Core.ChangedToCore = append(analysis.MetaChanges.Core.ChangedToCore, path)
			case ChangeDeleted:
				analysis.MetaChanges.Core.ChangedFromCore = append(analysis.MetaChanges.Core.ChangedFromCore, path)
			}
		}
		for _, name := range restrictionNames {
			change, ok := diff.Restrictions[name]
			if !ok {
				continue
			}
			analysis.RestrictionsChanges.set(name).add(change.Type, RestrictionChange{Field: path, Definition: change.Data})
		}
		if diff.IsArray != nil {
			analysis.IsArrayDesignationChanges = append(analysis.IsArrayDesignationChanges, path)
		}
		if diff.ValueType != nil {
			to, _ := diff.ValueType.Data.(ValueType)
			analysis.ValueTypeChanges = append(analysis.ValueTypeChanges, ValueTypeChange{
				Field: path,
				From:  oldFields[path].ValueType,
				To:    to,
			})
		}
	}
	return analysis
}

// InvalidatingChangeType names a change that can make stored data invalid.
type InvalidatingChangeType string

// Breaking change kinds.
const (
	CodeListAdded      InvalidatingChangeType = "CODELIST_ADDED"
	CodeListUpdated    InvalidatingChangeType = "CODELIST_UPDATED"
	RegexAdded         InvalidatingChangeType = "REGEX_ADDED"
	RegexUpdated       InvalidatingChangeType = "REGEX_UPDATED"
	RequiredSet        InvalidatingChangeType = "REQUIRED_SET"
	RequiredFieldAdded InvalidatingChangeType = "REQUIRED_FIELD_ADDED"
	FieldRemoved       InvalidatingChangeType = "FIELD_REMOVED"
	ScriptAdded        InvalidatingChangeType = "SCRIPT_ADDED"
	ScriptUpdated      InvalidatingChangeType = "SCRIPT_UPDATED"
	RangeAdded         InvalidatingChangeType = "RANGE_ADDED"
	RangeUpdated       InvalidatingChangeType = "RANGE_UPDATED"
	IsArrayChanged     InvalidatingChangeType = "IS_ARRAY_CHANGED"
)

// InvalidatingChange is a breaking change on one field path.
type InvalidatingChange struct {
	Type          InvalidatingChangeType `json:"type"`
	FieldPath     string                 `json:"fieldPath"`
	NewValidValue any                    `json:"newValidValue,omitempty"`
}

// FindInvalidatingChanges lists the changes that may invalidate data stored
// under the older version.
func FindInvalidatingChanges(a ChangeAnalysis) []InvalidatingChange {
	var out []InvalidatingChange
	push := func(t InvalidatingChangeType, path string, value any) {
		out = append(out, InvalidatingChange{Type: t, FieldPath: path, NewValidValue: value})
	}
	rc := a.RestrictionsChanges
	for _, c := range rc.CodeList.Created {
		push(CodeListAdded, c.Field, nil)
	}
	for _, c := range rc.CodeList.Updated {
		push(CodeListUpdated, c.Field, nil)
	}
	for _, c := range rc.Regex.Created {
		push(RegexAdded, c.Field, c.Definition)
	}
	for _, c := range rc.Regex.Updated {
		push(RegexUpdated, c.Field, c.Definition)
	}
	for _, c := range append(append([]RestrictionChange(nil), rc.Required.Created...), rc.Required.Updated...) {
		if required, _ := c.Definition.(bool); required {
			push(RequiredSet, c.Field, true)
		}
	}
	for _, f := range a.Fields.AddedFields {
		if f.Definition.isRequired() {
			push(RequiredFieldAdded, f.Name, nil)
		}
	}
	for _, path := range a.Fields.DeletedFields {
		push(FieldRemoved, path, nil)
	}
	for _, c := range rc.Script.Created {
		push(ScriptAdded, c.Field, c.Definition)
	}
	for _, c := range rc.Script.Updated {
		push(ScriptUpdated, c.Field, c.Definition)
	}
	for _, c := range rc.Range.Created {
		push(RangeAdded, c.Field, nil)
	}
	for _, c := range rc.Range.Updated {
		push(RangeUpdated, c.Field, nil)
	}
	for _, path := range a.IsArrayDesignationChanges {
		push(IsArrayChanged, path, nil)
	}
	return out
}

// EntitiesWithBreakingChanges returns the distinct schemas touched by
// breaking changes, in first-seen order.
func EntitiesWithBreakingChanges(a ChangeAnalysis) []string {
	changes := FindInvalidatingChanges(a)
	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		paths = append(paths, c.FieldPath)
	}
	return distinctEntities(paths)
}

// EntitiesWithCoreChanges returns the schemas whose set of core fields may
// have changed: core fields added, any field deleted, or a core flag flipped.
func EntitiesWithCoreChanges(a ChangeAnalysis) []string {
	var paths []string
	for _, f := range a.Fields.AddedFields {
		if f.Definition.IsCore() {
			paths = append(paths, f.Name)
		}
	}
	paths = append(paths, a.Fields.DeletedFields...)
	paths = append(paths, a.MetaChanges.Core.ChangedToCore...)
	paths = append(paths, a.MetaChanges.Core.ChangedFromCore...)
	return distinctEntities(paths)
}

func distinctEntities(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var out []string
	for _, p := range paths {
		entity := EntityOfPath(p)
		if _, ok := seen[entity]; ok {
			continue
		}
		seen[entity] = struct{}{}
		out = append(out, entity)
	}
	return out
}
