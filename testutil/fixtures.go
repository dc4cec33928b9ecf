// Package testutil holds dictionary and donor fixtures plus import guards
// shared by package tests.
package testutil

import (
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// DictionaryName is the name of the fixture dictionary.
const DictionaryName = "ARGO-Clinical"

func str(name string, required bool, codes ...string) dictionary.FieldDefinition {
	f := dictionary.FieldDefinition{Name: name, ValueType: dictionary.ValueTypeString}
	if required || len(codes) > 0 {
		f.Restrictions = &dictionary.Restrictions{Required: required, CodeList: codes}
	}
	return f
}

func integer(name string, required bool) dictionary.FieldDefinition {
	f := dictionary.FieldDefinition{Name: name, ValueType: dictionary.ValueTypeInteger}
	if required {
		f.Restrictions = &dictionary.Restrictions{Required: true}
	}
	return f
}

func core(f dictionary.FieldDefinition) dictionary.FieldDefinition {
	f.Meta = &dictionary.FieldMeta{Core: true}
	return f
}

func keys() []dictionary.FieldDefinition {
	return []dictionary.FieldDefinition{
		str(domain.FieldProgramID, true),
		str(domain.FieldSubmitterDonorID, true),
	}
}

func therapyFields(extra ...dictionary.FieldDefinition) []dictionary.FieldDefinition {
	fields := append(keys(), str(domain.FieldSubmitterTreatmentID, true))
	return append(fields, extra...)
}

// ClinicalDictionary returns a dictionary that defines every clinical
// entity with the fields the engine reads.
func ClinicalDictionary(version string) dictionary.Dictionary {
	specimen := append(keys(),
		core(str(domain.FieldSubmitterSpecimenID, true)),
		integer(domain.FieldSpecimenAcquisitionInterval, true),
		str(domain.FieldSubmitterPrimaryDiagnosisID, false),
	)
	for _, f := range domain.TumourSpecimenRequiredFields {
		specimen = append(specimen, str(f, false))
	}
	for _, f := range domain.TumourSpecimenOptionalFields {
		specimen = append(specimen, str(f, false))
	}
	treatmentType := str(domain.FieldTreatmentType, true,
		"Chemotherapy", "Hormonal therapy", "Immunotherapy", "Radiation therapy", "Surgery", "No treatment", "Ablation")
	treatmentType.IsArray = true

	return dictionary.Dictionary{
		Name:    DictionaryName,
		Version: version,
		Schemas: []dictionary.SchemaDefinition{
			{Name: string(domain.ClinicalRegistration), Fields: append(keys(),
				str(domain.FieldGender, true, "Female", "Male", "Other"),
				str(domain.FieldSubmitterSpecimenID, true),
				str(domain.FieldSpecimenTissueSource, true),
				str(domain.FieldTumourNormalDesignation, true, domain.DesignationNormal, domain.DesignationTumour),
				str(domain.FieldSpecimenType, true),
				str(domain.FieldSubmitterSampleID, true),
				str(domain.FieldSampleType, true, "Total DNA", "Total RNA", "ctDNA"),
			)},
			{Name: string(domain.ClinicalDonor), Fields: append(keys(),
				core(str(domain.FieldVitalStatus, true, "Alive", domain.VitalStatusDeceased)),
				integer(domain.FieldSurvivalTime, false),
				str(domain.FieldCauseOfDeath, false, "Died of cancer", "Died of other reasons", "Unknown"),
			)},
			{Name: string(domain.ClinicalSpecimen), Fields: specimen},
			{Name: string(domain.ClinicalPrimaryDiagnosis), Fields: append(keys(),
				core(str(domain.FieldSubmitterPrimaryDiagnosisID, true)),
				str("cancer_type_code", false),
				integer("age_at_diagnosis", false),
				str(domain.FieldClinicalTumourStagingSystem, false),
				str(domain.FieldClinicalStageGroup, false),
				str(domain.FieldClinicalTCategory, false),
				str(domain.FieldClinicalNCategory, false),
				str(domain.FieldClinicalMCategory, false),
			)},
			{Name: string(domain.ClinicalTreatment), Fields: append(keys(),
				core(str(domain.FieldSubmitterTreatmentID, true)),
				treatmentType,
				str(domain.FieldSubmitterPrimaryDiagnosisID, false),
				integer("treatment_start_interval", false),
			)},
			{Name: string(domain.ClinicalChemotherapy), Fields: therapyFields(str(domain.FieldDrugRxNormCUI, true), str(domain.FieldDrugName, false))},
			{Name: string(domain.ClinicalHormoneTherapy), Fields: therapyFields(str(domain.FieldDrugRxNormCUI, true), str(domain.FieldDrugName, false))},
			{Name: string(domain.ClinicalImmunotherapy), Fields: therapyFields(
				str(domain.FieldDrugRxNormCUI, true), str(domain.FieldDrugName, false), str(domain.FieldImmunotherapyType, false),
			)},
			{Name: string(domain.ClinicalRadiation), Fields: therapyFields(str(domain.FieldRadiationTherapyModality, true))},
			{Name: string(domain.ClinicalSurgery), Fields: therapyFields(str(domain.FieldSubmitterSpecimenID, false), str(domain.FieldSurgeryType, false))},
			{Name: string(domain.ClinicalFollowUp), Fields: append(keys(),
				core(str(domain.FieldSubmitterFollowUpID, true)),
				str(domain.FieldSubmitterPrimaryDiagnosisID, false),
				str(domain.FieldSubmitterTreatmentID, false),
				integer("interval_of_followup", false),
			)},
		},
	}
}

// WithField returns a copy of dict whose entity schema also defines field.
// An existing field of the same name is replaced.
func WithField(dict dictionary.Dictionary, version string, entity domain.ClinicalEntity, field dictionary.FieldDefinition) dictionary.Dictionary {
	out := dictionary.Dictionary{Name: dict.Name, Version: version, Schemas: make([]dictionary.SchemaDefinition, len(dict.Schemas))}
	for i, s := range dict.Schemas {
		fields := append([]dictionary.FieldDefinition(nil), s.Fields...)
		if s.Name == string(entity) {
			replaced := false
			for j := range fields {
				if fields[j].Name == field.Name {
					fields[j] = field
					replaced = true
				}
			}
			if !replaced {
				fields = append(fields, field)
			}
		}
		s.Fields = fields
		out.Schemas[i] = s
	}
	return out
}

// Specimen builds a registered specimen with samples of type "Total DNA".
func Specimen(submitterID, designation string, sampleIDs ...string) domain.Specimen {
	sp := domain.Specimen{
		SubmitterID:             submitterID,
		SpecimenTissueSource:    "Blood derived",
		TumourNormalDesignation: designation,
		SpecimenType:            "Normal",
		Samples:                 []domain.Sample{},
	}
	if designation == domain.DesignationTumour {
		sp.SpecimenType = "Primary tumour"
	}
	for _, id := range sampleIDs {
		sp.Samples = append(sp.Samples, domain.Sample{SubmitterID: id, SampleType: "Total DNA"})
	}
	return sp
}

// RegisteredDonor builds a valid donor registered under schemaVersion.
func RegisteredDonor(programID, submitterID, schemaVersion string, specimens ...domain.Specimen) domain.Donor {
	return domain.Donor{
		ProgramID:   programID,
		SubmitterID: submitterID,
		Gender:      "Female",
		SchemaMetadata: domain.SchemaMetadata{
			LastValidSchemaVersion: schemaVersion,
			OriginalSchemaVersion:  schemaVersion,
			IsValid:                true,
		},
		Specimens:  append([]domain.Specimen{}, specimens...),
		Treatments: []domain.Treatment{},
		FollowUps:  []domain.FollowUp{},
	}
}

// RegistrationRow builds a raw sample_registration row matching Specimen.
func RegistrationRow(programID, donorID, specimenID, designation, sampleID string) dictionary.Record {
	sp := Specimen(specimenID, designation, sampleID)
	return dictionary.Record{
		domain.FieldProgramID:               programID,
		domain.FieldSubmitterDonorID:        donorID,
		domain.FieldGender:                  "Female",
		domain.FieldSubmitterSpecimenID:     specimenID,
		domain.FieldSpecimenTissueSource:    sp.SpecimenTissueSource,
		domain.FieldTumourNormalDesignation: designation,
		domain.FieldSpecimenType:            sp.SpecimenType,
		domain.FieldSubmitterSampleID:       sampleID,
		domain.FieldSampleType:              "Total DNA",
	}
}
