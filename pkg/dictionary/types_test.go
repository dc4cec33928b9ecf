package dictionary

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestFieldDecodingAcceptsMixedShapes(t *testing.T) {
	raw := `{"name":"age","valueType":"integer","restrictions":{"codeList":[1,"2",3.5],"script":"({valid:true})"}}`
	var f FieldDefinition
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := []string(f.Restrictions.CodeList); len(got) != 3 || got[0] != "1" || got[2] != "3.5" {
		t.Fatalf("unexpected code list %v", got)
	}
	if len(f.Restrictions.Script) != 1 {
		t.Fatalf("expected single script, got %v", f.Restrictions.Script)
	}

	doc := `
name: vital_status
valueType: string
meta:
  core: true
restrictions:
  required: true
  codeList: [Alive, Deceased]
  script:
    - "({valid: true})"
    - "({valid: $field !== 'x'})"
`
	var y FieldDefinition
	if err := yaml.Unmarshal([]byte(doc), &y); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !y.IsCore() || !y.Restrictions.Required || len(y.Restrictions.Script) != 2 {
		t.Fatalf("unexpected yaml decode: %+v", y)
	}
	if !y.Restrictions.CodeList.Contains("Deceased") {
		t.Fatalf("expected Deceased in %v", y.Restrictions.CodeList)
	}
}

func TestSchemaLookups(t *testing.T) {
	dict := testDictionary()
	schema, ok := dict.Schema("donor")
	if !ok {
		t.Fatalf("donor schema missing")
	}
	if _, ok := schema.Field("vital_status"); !ok {
		t.Fatalf("vital_status missing")
	}
	if names := schema.FieldNames(); names[0] != "program_id" {
		t.Fatalf("unexpected order %v", names)
	}
	if EntityOfPath("donor.vital_status") != "donor" {
		t.Fatalf("unexpected entity")
	}
}
