// Package validation checks submitted registration and clinical rows against
// the dictionary, against each other and against the donors already stored.
// Findings are values attached to rows, never Go errors.
package validation

import (
	"context"
	"maps"
	"runtime"

	"golang.org/x/sync/errgroup"

	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// BatchResult holds the findings and processed rows of a schema batch.
// ProcessedRecords keeps input order; each row carries its index.
type BatchResult struct {
	Errors           []domain.SubmissionValidationError
	ProcessedRecords []dictionary.TypedRecord
}

// HasErrors reports whether any row produced a finding.
func (r BatchResult) HasErrors() bool { return len(r.Errors) > 0 }

// ValidateBatch runs the record processor over every row of entity and
// converts schema findings into submission findings. Rows whose program_id
// differs from programID get INVALID_PROGRAM_ID. Rows are processed
// concurrently; the result is in input order.
func ValidateBatch(ctx context.Context, entity domain.ClinicalEntity, records []dictionary.Record, programID string, dict dictionary.Dictionary) (BatchResult, error) {
	if _, ok := dict.Schema(string(entity)); !ok {
		return BatchResult{}, dictionary.UnknownSchemaError{Dictionary: dict.Name, Version: dict.Version, Schema: string(entity)}
	}
	results := make([]dictionary.Result, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := dictionary.Process(dict, string(entity), rec, i)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{ProcessedRecords: make([]dictionary.TypedRecord, 0, len(records))}
	for i, res := range results {
		raw := domain.ClinicalInfo(records[i])
		for _, se := range res.Errors {
			out.Errors = append(out.Errors, fromSchemaError(entity, se, raw))
		}
		if e, ok := programMismatch(entity, raw, i, programID); ok {
			out.Errors = append(out.Errors, e)
		}
		typed := res.Record.Clone()
		if typed == nil {
			typed = dictionary.TypedRecord{}
		}
		typed[domain.IndexField] = i
		out.ProcessedRecords = append(out.ProcessedRecords, typed)
	}
	return out, nil
}

func fromSchemaError(entity domain.ClinicalEntity, se dictionary.SchemaValidationError, raw domain.ClinicalInfo) domain.SubmissionValidationError {
	info := make(map[string]any, len(se.Info)+4)
	maps.Copy(info, se.Info)
	if v, ok := info["value"]; !ok || v == nil || v == "" {
		info["value"] = raw[se.FieldName]
	}
	info["donorSubmitterId"] = raw.String(domain.FieldSubmitterDonorID)
	if entity == domain.ClinicalRegistration {
		info["specimenSubmitterId"] = raw.String(domain.FieldSubmitterSpecimenID)
		info["sampleSubmitterId"] = raw.String(domain.FieldSubmitterSampleID)
	}
	return domain.SubmissionValidationError{
		Type:      domain.ValidationErrorType(se.ErrorType),
		FieldName: se.FieldName,
		Index:     se.Index,
		Info:      info,
		Message:   se.Message,
	}
}

func programMismatch(entity domain.ClinicalEntity, raw domain.ClinicalInfo, index int, expected string) (domain.SubmissionValidationError, bool) {
	got := raw.String(domain.FieldProgramID)
	if got == "" || got == expected {
		return domain.SubmissionValidationError{}, false
	}
	info := map[string]any{
		"value":            got,
		"donorSubmitterId": raw.String(domain.FieldSubmitterDonorID),
		"expectedProgram":  expected,
	}
	if entity == domain.ClinicalRegistration {
		info["specimenSubmitterId"] = raw.String(domain.FieldSubmitterSpecimenID)
		info["sampleSubmitterId"] = raw.String(domain.FieldSubmitterSampleID)
	}
	return domain.SubmissionValidationError{
		Type:      domain.ErrInvalidProgramID,
		FieldName: domain.FieldProgramID,
		Index:     index,
		Info:      info,
		Message:   ValidationErrorMessage(domain.ErrInvalidProgramID, domain.FieldProgramID, info),
	}, true
}
