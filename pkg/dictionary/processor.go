package dictionary

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
)

// Result is the outcome of processing one record.
type Result struct {
	Record TypedRecord             `json:"record"`
	Errors []SchemaValidationError `json:"errors"`
}

// BatchResult is the outcome of processing a list of records.
type BatchResult struct {
	Records []TypedRecord           `json:"records"`
	Errors  []SchemaValidationError `json:"errors"`
}

// HasErrors reports whether processing produced any finding.
func (r Result) HasErrors() bool { return len(r.Errors) > 0 }

// Process validates raw against the named entity schema and converts its
// values to the declared types. The error return is reserved for an entity
// the dictionary does not define; validation findings are returned in the
// result. Process performs no I/O and is safe for concurrent use.
func Process(dict Dictionary, entity string, raw Record, index int) (Result, error) {
	schema, ok := dict.Schema(entity)
	if !ok {
		return Result{}, UnknownSchemaError{Dictionary: dict.Name, Version: dict.Version, Schema: entity}
	}
	return processSchema(schema, raw, index), nil
}

// ProcessRecords runs Process over records, using each record's position as
// its index.
func ProcessRecords(dict Dictionary, entity string, records []Record) (BatchResult, error) {
	schema, ok := dict.Schema(entity)
	if !ok {
		return BatchResult{}, UnknownSchemaError{Dictionary: dict.Name, Version: dict.Version, Schema: entity}
	}
	out := BatchResult{Records: make([]TypedRecord, 0, len(records))}
	for i, rec := range records {
		res := processSchema(schema, rec, i)
		out.Errors = append(out.Errors, res.Errors...)
		out.Records = append(out.Records, res.Record.Clone())
	}
	return out, nil
}

func processSchema(schema SchemaDefinition, raw Record, index int) Result {
	defaulted := populateDefaults(schema, raw)
	preErrors := runPipeline(defaulted, index, schema.Fields, []rawCheck{
		checkFieldNames,
		checkNonArrayFields,
		checkRequiredFields,
		checkValueTypes,
	})
	typed := convertFromRawStrings(schema, defaulted, preErrors)
	postErrors := runTypedPipeline(typed.Clone(), index, schema.Fields, []typedCheck{
		checkRegex,
		checkRange,
		checkEnum,
		checkScript,
	})
	errs := make([]SchemaValidationError, 0, len(preErrors)+len(postErrors))
	errs = append(errs, preErrors...)
	errs = append(errs, postErrors...)
	return Result{Record: typed, Errors: errs}
}

type rawCheck func(rec Record, index int, fields []FieldDefinition) []SchemaValidationError

type typedCheck func(rec TypedRecord, index int, fields []FieldDefinition) []SchemaValidationError

func runPipeline(rec Record, index int, fields []FieldDefinition, checks []rawCheck) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, check := range checks {
		errs = append(errs, check(rec, index, validFields(errs, fields))...)
	}
	return errs
}

func runTypedPipeline(rec TypedRecord, index int, fields []FieldDefinition, checks []typedCheck) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, check := range checks {
		errs = append(errs, check(rec, index, validFields(errs, fields))...)
	}
	return errs
}

// validFields drops fields that already have a finding.
func validFields(errs []SchemaValidationError, fields []FieldDefinition) []FieldDefinition {
	if len(errs) == 0 {
		return fields
	}
	failed := make(map[string]struct{}, len(errs))
	for _, e := range errs {
		failed[e.FieldName] = struct{}{}
	}
	out := make([]FieldDefinition, 0, len(fields))
	for _, f := range fields {
		if _, bad := failed[f.Name]; !bad {
			out = append(out, f)
		}
	}
	return out
}

func populateDefaults(schema SchemaDefinition, raw Record) Record {
	rec := raw.Clone()
	if rec == nil {
		rec = Record{}
	}
	for _, field := range schema.Fields {
		if field.Meta == nil || field.Meta.Default == "" {
			continue
		}
		switch value := rec[field.Name].(type) {
		case string:
			if !field.IsArray && strings.TrimSpace(value) == "" {
				rec[field.Name] = field.Meta.Default
			}
		case []string:
			if field.IsArray && len(value) > 0 && allBlank(value) {
				rec[field.Name] = splitArray(field.Meta.Default)
			}
		}
	}
	return rec
}

// rawValues returns the raw value of a field as a list. An absent field is a
// single empty value.
func rawValues(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{""}
	case string:
		return []string{val}
	case []string:
		return val
	default:
		return []string{stringifyScalar(val)}
	}
}

func isEmptyRaw(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []string:
		return len(val) == 0
	default:
		return false
	}
}

func allBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func splitArray(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkFieldNames(rec Record, index int, fields []FieldDefinition) []SchemaValidationError {
	expected := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		expected[f.Name] = struct{}{}
	}
	var errs []SchemaValidationError
	for _, name := range sortedKeys(rec) {
		if _, ok := expected[name]; !ok {
			errs = append(errs, buildError(ErrorUnrecognizedField, name, index, nil))
		}
	}
	return errs
}

func checkNonArrayFields(rec Record, index int, fields []FieldDefinition) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, f := range fields {
		if _, isList := rec[f.Name].([]string); isList && !f.IsArray {
			errs = append(errs, buildError(ErrorInvalidFieldValue, f.Name, index, nil))
		}
	}
	return errs
}

func checkRequiredFields(rec Record, index int, fields []FieldDefinition) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, f := range fields {
		if !f.isRequired() {
			continue
		}
		if allBlank(rawValues(rec[f.Name])) {
			errs = append(errs, buildError(ErrorMissingRequiredField, f.Name, index, nil))
		}
	}
	return errs
}

func checkValueTypes(rec Record, index int, fields []FieldDefinition) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, f := range fields {
		if isEmptyRaw(rec[f.Name]) {
			continue
		}
		values := rawValues(rec[f.Name])
		if f.IsArray {
			if s, ok := rec[f.Name].(string); ok {
				values = splitArray(s)
			}
		}
		for _, v := range values {
			if isInvalidFieldType(f.ValueType, v) {
				errs = append(errs, buildError(ErrorInvalidFieldValue, f.Name, index, nil))
				break
			}
		}
	}
	return errs
}

func isInvalidFieldType(valueType ValueType, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	switch valueType {
	case ValueTypeInteger:
		n, ok := parseNumber(value)
		return !ok || n != math.Trunc(n)
	case ValueTypeNumber:
		_, ok := parseNumber(value)
		return !ok
	case ValueTypeBoolean:
		lower := strings.ToLower(value)
		return lower != "true" && lower != "false"
	default:
		return false
	}
}

func parseNumber(value string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func convertFromRawStrings(schema SchemaDefinition, rec Record, errs []SchemaValidationError) TypedRecord {
	typeErrors := make(map[string]struct{})
	for _, e := range errs {
		if e.ErrorType == ErrorInvalidFieldValue {
			typeErrors[e.FieldName] = struct{}{}
		}
	}
	out := make(TypedRecord, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	for _, field := range schema.Fields {
		if _, bad := typeErrors[field.Name]; bad {
			continue
		}
		raw, present := rec[field.Name]
		if !present {
			continue
		}
		if isEmptyRaw(raw) {
			delete(out, field.Name)
			continue
		}
		if field.IsArray {
			var values []string
			if s, ok := raw.(string); ok {
				values = splitArray(s)
			} else {
				values = rawValues(raw)
			}
			out[field.Name] = typedList(field, values)
			continue
		}
		out[field.Name] = typedValue(field, rawValues(raw)[0])
	}
	return out
}

func typedList(field FieldDefinition, values []string) any {
	switch field.ValueType {
	case ValueTypeInteger, ValueTypeNumber:
		nums := make([]float64, 0, len(values))
		for _, v := range values {
			n, _ := parseNumber(v)
			nums = append(nums, n)
		}
		return nums
	case ValueTypeBoolean:
		bools := make([]bool, 0, len(values))
		for _, v := range values {
			bools = append(bools, strings.EqualFold(strings.TrimSpace(v), "true"))
		}
		return bools
	default:
		strs := make([]string, 0, len(values))
		for _, v := range values {
			strs = append(strs, canonicalCode(field, v))
		}
		return strs
	}
}

func typedValue(field FieldDefinition, raw string) any {
	switch field.ValueType {
	case ValueTypeInteger, ValueTypeNumber:
		n, _ := parseNumber(raw)
		return n
	case ValueTypeBoolean:
		return strings.EqualFold(strings.TrimSpace(raw), "true")
	default:
		return canonicalCode(field, raw)
	}
}

// canonicalCode maps a value to the code list entry it matches
// case-insensitively, or returns it unchanged.
func canonicalCode(field FieldDefinition, raw string) string {
	for _, code := range field.codeList() {
		if strings.EqualFold(code, raw) {
			return code
		}
	}
	return raw
}

func checkRegex(rec TypedRecord, index int, fields []FieldDefinition) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, f := range fields {
		if f.Restrictions == nil || f.Restrictions.Regex == "" {
			continue
		}
		values, ok := stringValues(rec[f.Name])
		if !ok {
			continue
		}
		pattern := f.Restrictions.Regex
		var invalid []string
		for _, v := range values {
			if v != "" && !matchesRegex(pattern, v) {
				invalid = append(invalid, v)
			}
		}
		if len(invalid) == 0 {
			continue
		}
		info := map[string]any{"regex": pattern}
		if examples := f.examples(); examples != "" {
			info["examples"] = examples
		}
		if f.IsArray {
			info["value"] = invalid
		}
		errs = append(errs, buildError(ErrorInvalidByRegex, f.Name, index, info))
	}
	return errs
}

func checkRange(rec TypedRecord, index int, fields []FieldDefinition) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, f := range fields {
		if f.Restrictions == nil || f.Restrictions.Range == nil {
			continue
		}
		values, ok := numberValues(rec[f.Name])
		if !ok {
			continue
		}
		var invalid []float64
		for _, v := range values {
			if outOfRange(*f.Restrictions.Range, v) {
				invalid = append(invalid, v)
			}
		}
		if len(invalid) == 0 {
			continue
		}
		var info map[string]any
		if f.IsArray {
			info = map[string]any{"value": invalid}
		}
		errs = append(errs, buildError(ErrorInvalidByRange, f.Name, index, info))
	}
	return errs
}

func outOfRange(r Range, v float64) bool {
	return (r.Min != nil && v < *r.Min) ||
		(r.ExclusiveMin != nil && v <= *r.ExclusiveMin) ||
		(r.Max != nil && v > *r.Max) ||
		(r.ExclusiveMax != nil && v >= *r.ExclusiveMax)
}

func checkEnum(rec TypedRecord, index int, fields []FieldDefinition) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, f := range fields {
		codes := f.codeList()
		if len(codes) == 0 {
			continue
		}
		var invalid []string
		for _, v := range scalarStrings(rec[f.Name]) {
			if v != "" && !codes.Contains(v) {
				invalid = append(invalid, v)
			}
		}
		if len(invalid) == 0 {
			continue
		}
		var info map[string]any
		if f.IsArray {
			info = map[string]any{"value": invalid}
		}
		errs = append(errs, buildError(ErrorInvalidEnumValue, f.Name, index, info))
	}
	return errs
}

func checkScript(rec TypedRecord, index int, fields []FieldDefinition) []SchemaValidationError {
	var errs []SchemaValidationError
	for _, f := range fields {
		if f.Restrictions == nil || len(f.Restrictions.Script) == 0 {
			continue
		}
		res := runScripts(f.Name, f.Restrictions.Script, rec)
		if !res.Valid {
			errs = append(errs, buildError(ErrorInvalidByScript, f.Name, index, map[string]any{"message": res.Message}))
		}
	}
	return errs
}

func stringValues(v any) ([]string, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		return []string{val}, true
	case []string:
		return val, true
	default:
		return nil, false
	}
}

func numberValues(v any) ([]float64, bool) {
	switch val := v.(type) {
	case float64:
		return []float64{val}, true
	case []float64:
		return val, true
	default:
		return nil, false
	}
}

// scalarStrings renders every typed value as a string for code list lookup.
func scalarStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []string:
		return val
	case []float64:
		out := make([]string, 0, len(val))
		for _, n := range val {
			out = append(out, stringifyScalar(n))
		}
		return out
	case []bool:
		out := make([]string, 0, len(val))
		for _, b := range val {
			out = append(out, stringifyScalar(b))
		}
		return out
	default:
		return []string{stringifyScalar(val)}
	}
}

var regexCache sync.Map

// matchesRegex evaluates pattern with ECMAScript semantics. A pattern that
// does not compile rejects every value.
func matchesRegex(pattern, value string) bool {
	var re *regexp2.Regexp
	if cached, ok := regexCache.Load(pattern); ok {
		re = cached.(*regexp2.Regexp)
	} else {
		compiled, err := regexp2.Compile(pattern, regexp2.ECMAScript)
		if err != nil {
			return false
		}
		actual, _ := regexCache.LoadOrStore(pattern, compiled)
		re = actual.(*regexp2.Regexp)
	}
	ok, err := re.MatchString(value)
	return err == nil && ok
}

func sortedKeys(rec Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
