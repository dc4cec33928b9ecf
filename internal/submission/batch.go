package submission

import (
	"fmt"
	"slices"
	"strings"

	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// BatchErrorCode classifies a problem with a whole batch.
type BatchErrorCode string

// Batch level problems.
const (
	BatchInvalidEntity         BatchErrorCode = "INVALID_FILE_NAME"
	BatchIncorrectSection      BatchErrorCode = "INCORRECT_SECTION"
	BatchMissingRequiredHeader BatchErrorCode = "MISSING_REQUIRED_HEADER"
	BatchUnrecognizedHeader    BatchErrorCode = "UNRECOGNIZED_HEADER"
)

// BatchError reports a batch that was rejected before its rows were read.
type BatchError struct {
	Code       BatchErrorCode `json:"code"`
	Message    string         `json:"message"`
	BatchNames []string       `json:"batchNames"`
}

// ClinicalBatch is one uploaded batch of rows for an entity. FieldNames, when
// set, are the batch headers and are checked against the schema before any
// row is processed.
type ClinicalBatch struct {
	BatchName  string
	FieldNames []string
	Records    []dictionary.Record
}

// checkFieldNames reports required fields missing from, and unknown fields
// present in, the batch headers.
func checkFieldNames(schema dictionary.SchemaDefinition, batch ClinicalBatch) []BatchError {
	if batch.FieldNames == nil {
		return nil
	}
	headers := map[string]struct{}{}
	for _, name := range batch.FieldNames {
		headers[strings.TrimSpace(name)] = struct{}{}
	}
	var missing []string
	for _, f := range schema.Fields {
		_, present := headers[f.Name]
		delete(headers, f.Name)
		if !present && f.Restrictions != nil && f.Restrictions.Required {
			missing = append(missing, f.Name)
		}
	}
	var errs []BatchError
	if len(missing) > 0 {
		errs = append(errs, BatchError{
			Code:       BatchMissingRequiredHeader,
			Message:    fmt.Sprintf("Missing required headers: [%s]", strings.Join(missing, "], [")),
			BatchNames: []string{batch.BatchName},
		})
	}
	if len(headers) > 0 {
		unknown := make([]string, 0, len(headers))
		for name := range headers {
			unknown = append(unknown, name)
		}
		slices.Sort(unknown)
		errs = append(errs, BatchError{
			Code:       BatchUnrecognizedHeader,
			Message:    fmt.Sprintf("Found unknown headers: [%s]", strings.Join(unknown, "], [")),
			BatchNames: []string{batch.BatchName},
		})
	}
	return errs
}

func entityBatchError(entity domain.ClinicalEntity, batch ClinicalBatch) BatchError {
	if entity == domain.ClinicalRegistration {
		return BatchError{
			Code:       BatchIncorrectSection,
			Message:    "Sample registration batches must be submitted as a registration.",
			BatchNames: []string{batch.BatchName},
		}
	}
	return BatchError{
		Code:       BatchInvalidEntity,
		Message:    fmt.Sprintf("Unknown clinical entity %q.", entity),
		BatchNames: []string{batch.BatchName},
	}
}

func isClinicalEntity(entity domain.ClinicalEntity) bool {
	return slices.Contains(domain.ClinicalEntities, entity)
}
