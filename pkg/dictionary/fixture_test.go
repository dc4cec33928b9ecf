package dictionary

func floatPtr(v float64) *float64 { return &v }

const causeOfDeathScript = `(function () {
  if ($row.vital_status === 'Alive' && $field) {
    return { valid: false, message: 'cause_of_death cannot be provided for living donors' };
  }
  return { valid: true, message: 'ok' };
})()`

func testDictionary() Dictionary {
	return Dictionary{
		Name:    "clinical",
		Version: "1.0",
		Schemas: []SchemaDefinition{
			{
				Name: "donor",
				Fields: []FieldDefinition{
					{Name: "program_id", ValueType: ValueTypeString, Restrictions: &Restrictions{Required: true}},
					{
						Name:         "submitter_donor_id",
						ValueType:    ValueTypeString,
						Meta:         &FieldMeta{Examples: "90234,BLD_donor_89"},
						Restrictions: &Restrictions{Required: true, Regex: `^[A-Za-z0-9\-\._]{1,64}$`},
					},
					{
						Name:         "vital_status",
						ValueType:    ValueTypeString,
						Meta:         &FieldMeta{Core: true},
						Restrictions: &Restrictions{Required: true, CodeList: CodeList{"Alive", "Deceased"}},
					},
					{
						Name:         "survival_time",
						ValueType:    ValueTypeInteger,
						Restrictions: &Restrictions{Range: &Range{Min: floatPtr(0)}},
					},
					{
						Name:      "cause_of_death",
						ValueType: ValueTypeString,
						Restrictions: &Restrictions{
							CodeList: CodeList{"Died of cancer", "Died of other reasons", "Unknown"},
							Script:   Scripts{causeOfDeathScript},
						},
					},
					{Name: "comorbidities", ValueType: ValueTypeString, IsArray: true, Meta: &FieldMeta{Default: "none"}},
					{Name: "is_smoker", ValueType: ValueTypeBoolean},
					{Name: "weight", ValueType: ValueTypeNumber, Restrictions: &Restrictions{Range: &Range{ExclusiveMin: floatPtr(0)}}},
					{Name: "height_unit", ValueType: ValueTypeString, Meta: &FieldMeta{Default: "cm"}},
				},
			},
		},
	}
}

func validDonorRecord() Record {
	return Record{
		"program_id":         "PACA-CA",
		"submitter_donor_id": "DO-1",
		"vital_status":       "Alive",
		"survival_time":      "120",
	}
}

func errorTypes(errs []SchemaValidationError) map[string]SchemaErrorType {
	out := make(map[string]SchemaErrorType, len(errs))
	for _, e := range errs {
		out[e.FieldName] = e.ErrorType
	}
	return out
}
