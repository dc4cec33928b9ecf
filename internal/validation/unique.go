package validation

import (
	"encoding/json"
	"slices"
	"strings"

	"clinicalcore/pkg/domain"
)

// CheckUniqueRecords reports FOUND_IDENTICAL_IDS for rows of entity that share
// a natural key, or that are identical when useAllRecordValues is set or the
// entity has no natural key. Each duplicated row gets one finding listing the
// other rows in conflictingRows. Rows are indexed by position.
func CheckUniqueRecords(entity domain.ClinicalEntity, records []domain.ClinicalInfo, useAllRecordValues bool) []domain.SubmissionValidationError {
	ids := domain.UniqueIdentifier(entity)
	if len(ids) == 0 {
		useAllRecordValues = true
	}
	field := domain.FieldSubmitterDonorID
	if len(ids) == 1 {
		field = ids[0]
	}

	groups := map[string][]int{}
	var order []string
	for i, rec := range records {
		key := identityKey(rec, ids, useAllRecordValues)
		if strings.TrimSpace(key) == "" {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var out []domain.SubmissionValidationError
	for _, key := range order {
		rows := groups[key]
		if len(rows) < 2 {
			continue
		}
		for _, i := range rows {
			rec := records[i].Clone()
			if rec == nil {
				rec = domain.ClinicalInfo{}
			}
			rec[domain.IndexField] = i
			others := slices.DeleteFunc(slices.Clone(rows), func(r int) bool { return r == i })
			out = append(out, newFinding(rec, domain.ErrFoundIdenticalIDs, field, map[string]any{
				"conflictingRows":    others,
				"useAllRecordValues": useAllRecordValues,
				"uniqueIdNames":      ids,
			}))
		}
	}
	slices.SortStableFunc(out, func(a, b domain.SubmissionValidationError) int { return a.Index - b.Index })
	return out
}

func identityKey(rec domain.ClinicalInfo, ids []string, all bool) string {
	if all {
		// encoding/json sorts map keys, so equal rows encode equally.
		b, err := json.Marshal(rec.Without(domain.IndexField))
		if err != nil {
			return ""
		}
		return string(b)
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = rec.String(id)
	}
	if strings.TrimSpace(strings.Join(parts, "")) == "" {
		return ""
	}
	// NUL keeps ("D1", "1T") apart from ("D11", "T").
	return strings.Join(parts, "\x00")
}
