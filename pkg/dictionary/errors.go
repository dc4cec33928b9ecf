package dictionary

import "fmt"

// SchemaErrorType classifies a schema validation finding.
type SchemaErrorType string

// Schema validation error types produced by the record processor.
const (
	ErrorMissingRequiredField SchemaErrorType = "MISSING_REQUIRED_FIELD"
	ErrorInvalidFieldValue    SchemaErrorType = "INVALID_FIELD_VALUE_TYPE"
	ErrorInvalidByRegex       SchemaErrorType = "INVALID_BY_REGEX"
	ErrorInvalidByRange       SchemaErrorType = "INVALID_BY_RANGE"
	ErrorInvalidByScript      SchemaErrorType = "INVALID_BY_SCRIPT"
	ErrorInvalidEnumValue     SchemaErrorType = "INVALID_ENUM_VALUE"
	ErrorUnrecognizedField    SchemaErrorType = "UNRECOGNIZED_FIELD"
)

const invalidValueMessage = "The value is not permissible for this field."

// SchemaValidationError is a single finding for one field of one record.
// Findings are values, not Go errors.
type SchemaValidationError struct {
	ErrorType SchemaErrorType `json:"errorType"`
	Index     int             `json:"index"`
	FieldName string          `json:"fieldName"`
	Info      map[string]any  `json:"info"`
	Message   string          `json:"message"`
}

func buildError(errorType SchemaErrorType, fieldName string, index int, info map[string]any) SchemaValidationError {
	if info == nil {
		info = map[string]any{}
	}
	return SchemaValidationError{
		ErrorType: errorType,
		Index:     index,
		FieldName: fieldName,
		Info:      info,
		Message:   SchemaErrorMessage(errorType, fieldName, info),
	}
}

// SchemaErrorMessage renders the user-facing message for a finding. Unknown
// types render as the type name.
func SchemaErrorMessage(errorType SchemaErrorType, fieldName string, info map[string]any) string {
	switch errorType {
	case ErrorInvalidFieldValue, ErrorInvalidEnumValue:
		return invalidValueMessage
	case ErrorInvalidByRegex:
		msg := fmt.Sprintf("The value is not a permissible for this field, it must meet the regular expression: \"%v\".", info["regex"])
		if examples, _ := info["examples"].(string); examples != "" {
			msg += " Examples: " + examples
		}
		return msg
	case ErrorInvalidByRange:
		return "Value is out of permissible range"
	case ErrorInvalidByScript:
		if msg, ok := info["message"].(string); ok {
			return msg
		}
		return string(errorType)
	case ErrorMissingRequiredField:
		return fieldName + " is a required field."
	case ErrorUnrecognizedField:
		return fieldName + " is not an allowed field for this schema."
	default:
		return string(errorType)
	}
}

// UnknownSchemaError reports a lookup of an entity the dictionary does not
// define.
type UnknownSchemaError struct {
	Dictionary string
	Version    string
	Schema     string
}

func (e UnknownSchemaError) Error() string {
	return fmt.Sprintf("no schema found for %q in dictionary %s@%s", e.Schema, e.Dictionary, e.Version)
}
