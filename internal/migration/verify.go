package migration

import (
	"slices"
	"strings"

	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// VerifyNewSchema checks that next still defines what the engine reads for
// every clinical entity: the fields it branches on, the code list values it
// compares against, and no value type change other than integer to number
// relative to current. Entities without problems are omitted.
func VerifyNewSchema(current, next dictionary.Dictionary) domain.NewSchemaVerification {
	out := domain.NewSchemaVerification{}
	typeChanges := dictionary.AnalyzeChanges(current, next).ValueTypeChanges
	for _, entity := range domain.ClinicalEntities {
		schema, _ := next.Schema(string(entity))
		problems := domain.EntitySchemaProblems{
			MissingFields:         missingFields(entity, schema),
			InvalidFieldCodeLists: codeListGaps(entity, schema),
			ValueTypeChanges:      prohibitedTypeChanges(entity, typeChanges),
		}
		if !problems.Empty() {
			out[entity] = problems
		}
	}
	return out
}

func missingFields(entity domain.ClinicalEntity, schema dictionary.SchemaDefinition) []string {
	var missing []string
	for _, name := range domain.RequiredEngineFields(entity) {
		if _, ok := schema.Field(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func codeListGaps(entity domain.ClinicalEntity, schema dictionary.SchemaDefinition) []domain.CodeListGap {
	var gaps []domain.CodeListGap
	for _, known := range domain.KnownCodeLists {
		if known.Entity != entity {
			continue
		}
		var codes dictionary.CodeList
		if f, ok := schema.Field(known.Field); ok && f.Restrictions != nil {
			codes = f.Restrictions.CodeList
		}
		var missing []string
		for _, v := range known.Values {
			if !codes.Contains(v) {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			gaps = append(gaps, domain.CodeListGap{FieldName: known.Field, MissingCodeListValues: missing})
		}
	}
	return gaps
}

func prohibitedTypeChanges(entity domain.ClinicalEntity, changes []dictionary.ValueTypeChange) []string {
	var out []string
	for _, c := range changes {
		if dictionary.EntityOfPath(c.Field) != string(entity) {
			continue
		}
		if c.From == dictionary.ValueTypeInteger && c.To == dictionary.ValueTypeNumber {
			continue
		}
		_, field, _ := strings.Cut(c.Field, ".")
		if !slices.Contains(out, field) {
			out = append(out, field)
		}
	}
	return out
}

// breakingEntities lists the clinical entities whose stored records may no
// longer pass after the analysed change.
func breakingEntities(a dictionary.ChangeAnalysis) []domain.ClinicalEntity {
	var out []domain.ClinicalEntity
	for _, name := range dictionary.EntitiesWithBreakingChanges(a) {
		entity := domain.ClinicalEntity(name)
		if slices.Contains(domain.ClinicalEntities, entity) {
			out = append(out, entity)
		}
	}
	return out
}
