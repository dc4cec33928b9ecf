package validation

import (
	"fmt"
	"strings"

	"clinicalcore/pkg/domain"
)

// ValidationErrorMessage renders the user facing message of a submission
// finding from its type, field and info. Unknown types render as the type
// name.
func ValidationErrorMessage(t domain.ValidationErrorType, fieldName string, info map[string]any) string {
	switch t {
	case domain.ErrNewDonorConflict:
		return "You are trying to register the same donor twice with different genders."
	case domain.ErrSampleBelongsToOtherSpecimen:
		return fmt.Sprintf("Samples can only be registered to a single specimen. This sample has already been registered to specimen %s. Please correct your file or contact DCC to update the registered data.", infoString(info, "otherSpecimenSubmitterId"))
	case domain.ErrSpecimenBelongsToOtherDonor:
		return fmt.Sprintf("Specimens can only be registered to a single donor. This specimen has already been registered to donor %s. Please correct your file or contact DCC to update the registered data.", infoString(info, "otherDonorSubmitterId"))
	case domain.ErrInvalidProgramID:
		return "Program ID does not match. Please include the correct Program ID."
	case domain.ErrMutatingExistingData:
		return fmt.Sprintf("The value does not match the previously registered value of %s. Please correct your file or contact DCC to update the registered data.", infoString(info, "originalValue"))
	case domain.ErrNewSampleAttrConflict:
		return "You are trying to register the same sample with different sample types."
	case domain.ErrNewSpecimenAttrConflict:
		return "You are trying to register the same specimen with different values."
	case domain.ErrNewSpecimenIDConflict:
		return "You are trying to register the same sample to multiple donors. Specimens can only be registered to a single donor."
	case domain.ErrNewSampleIDConflict:
		return "You are trying to register the same sample either with multiple donors, specimens or rows. Samples can only be registered once to a single donor and specimen."
	case domain.ErrIDNotRegistered:
		return fmt.Sprintf("%s has not yet been registered. Please register samples before submitting clinical data for this identifier.", infoString(info, "value"))
	case domain.ErrConflictingTimeInterval:
		return "survival_time cannot be less than Specimen specimen_acquisition_interval."
	case domain.ErrRelatedEntityMissingOrConflicting:
		field := infoString(info, "fieldName")
		parent := infoString(info, "parentEntity")
		return fmt.Sprintf("[%s] value in [%s] file requires a matching [%s] in [%s] data. Check that it belongs to the same [submitter_donor_id] = %s. It could have been previously submitted for a different donor, or if it's new in this submission, it's either missing in [%s] file or this [%s] is associated with different [submitter_donor_id] in the [%s] file.",
			field, infoString(info, "childEntity"), field, parent, infoString(info, "donorSubmitterId"), parent, field, parent)
	case domain.ErrNotEnoughInfoToValidate:
		return fmt.Sprintf("[%s] requires [%s] in order to complete validation.  Please upload data for all fields in this clinical data submission.",
			fieldName, strings.Join(infoStrings(info, "missingField"), "], ["))
	case domain.ErrFoundIdenticalIDs:
		if all, _ := info["useAllRecordValues"].(bool); all {
			return "This row is identical to another row"
		}
		names := strings.Join(infoStrings(info, "uniqueIdNames"), ", ")
		return fmt.Sprintf("You are trying to submit the same [%s] in multiple rows. [%s] can only be submitted once per file.", names, names)
	case domain.ErrClinicalEntityBelongsToOtherDonor:
		return fmt.Sprintf("This %s has already been associated to donor %s. Please correct your file.",
			strings.ReplaceAll(infoString(info, "clinicalType"), "_", " "), infoString(info, "otherDonorSubmitterId"))
	case domain.ErrMissingTherapyData:
		return fmt.Sprintf("Treatments of type [%s] need a corresponding [%s] record.", infoString(info, "value"), infoString(info, "therapyType"))
	case domain.ErrIncompatibleParentTreatmentType:
		return fmt.Sprintf("[%s] records can not be submitted for treatment types of [%s].",
			startCase(infoString(info, "therapyType")), infoString(info, domain.FieldTreatmentType))
	case domain.ErrTreatmentIDNotFound:
		return "Treatment and treatment_type files are required to be initialized together. Please upload a corresponding treatment file in this submission."
	case domain.ErrMissingVariableRequirement:
		field, value := variableRequirement(info)
		return fmt.Sprintf("%s must be provided when the %s is %s.", fieldName, field, value)
	case domain.ErrForbiddenProvidedVariableRequirement:
		field, value := variableRequirement(info)
		return fmt.Sprintf("%s should not be provided when the %s is %s.", fieldName, field, value)
	default:
		return string(t)
	}
}

func variableRequirement(info map[string]any) (string, string) {
	req, _ := info["variableRequirement"].(map[string]any)
	return infoString(req, "fieldName"), infoString(req, "fieldValue")
}

// infoString renders an info value. Lists are joined with commas.
func infoString(info map[string]any, key string) string {
	switch v := info[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return domain.ClinicalInfo(info).String(key)
	}
}

func infoStrings(info map[string]any, key string) []string {
	switch v := info[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// startCase turns "hormone_therapy" into "Hormone Therapy".
func startCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
