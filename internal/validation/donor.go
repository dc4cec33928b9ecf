package validation

import (
	"clinicalcore/internal/clinical"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// DonorSchemaErrors maps clinical entities to the schema findings their
// stored records produce against a dictionary.
type DonorSchemaErrors map[domain.ClinicalEntity][]dictionary.SchemaValidationError

// Entities returns the entities with findings in domain.ClinicalEntities
// order.
func (e DonorSchemaErrors) Entities() []domain.ClinicalEntity {
	out := make([]domain.ClinicalEntity, 0, len(e))
	for _, entity := range domain.ClinicalEntities {
		if len(e[entity]) > 0 {
			out = append(out, entity)
		}
	}
	return out
}

// ValidateDonorEntities re-processes the stored clinical info of each of
// entities on donor against dict. Entities the donor holds no records for
// are skipped, and entities without findings are omitted from the result.
// The error return is reserved for an entity dict does not define.
func ValidateDonorEntities(donor domain.Donor, dict dictionary.Dictionary, entities []domain.ClinicalEntity) (DonorSchemaErrors, error) {
	out := DonorSchemaErrors{}
	for _, entity := range entities {
		infos := clinical.ClinicalInfoOf(donor, entity)
		if len(infos) == 0 {
			continue
		}
		raws := make([]dictionary.Record, 0, len(infos))
		for _, info := range infos {
			raws = append(raws, dictionary.ToRawRecord(info.Without(domain.IndexField)))
		}
		res, err := dictionary.ProcessRecords(dict, string(entity), raws)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			out[entity] = res.Errors
		}
	}
	return out, nil
}

// DonorIsValid reports whether every clinical record stored on donor passes
// dict.
func DonorIsValid(donor domain.Donor, dict dictionary.Dictionary) (bool, error) {
	errs, err := ValidateDonorEntities(donor, dict, domain.ClinicalEntities)
	if err != nil {
		return false, err
	}
	return len(errs) == 0, nil
}
