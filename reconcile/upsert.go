package reconcile

import "strings"

// UpsertFields merges incoming into existing by label: a label already
// present (compared with NormalizeLabel) gets the new value and keeps its
// stored spelling, anything else is appended. Later incoming entries win over
// earlier ones. Blank labels are ignored.
//
// changed lists the fields whose final value is new or differs from the
// stored one, in the order their labels first appear in incoming. Merging the
// same input twice yields the same result and an empty changed list.
func UpsertFields(existing []Field, incoming []Field) (merged []Field, changed []Field) {
	merged = make([]Field, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, f := range merged {
		key := NormalizeLabel(f.Label)
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}
	preexisting := len(merged)

	var touched []string
	seen := make(map[string]bool)
	for _, in := range incoming {
		label := strings.TrimSpace(in.Label)
		key := NormalizeLabel(label)
		if key == "" {
			continue
		}
		value := strings.TrimSpace(in.Value)

		if i, ok := index[key]; ok {
			merged[i].Value = value
		} else {
			index[key] = len(merged)
			merged = append(merged, Field{Label: label, Value: value})
		}
		if !seen[key] {
			seen[key] = true
			touched = append(touched, key)
		}
	}

	// a field counts as changed only when its final value differs from the stored one
	for _, key := range touched {
		i := index[key]
		if i < preexisting && merged[i].Value == existing[i].Value {
			continue
		}
		changed = append(changed, merged[i])
	}
	return merged, changed
}

// Labels returns the labels of fields, for audit descriptions.
func Labels(fields []Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Label)
	}
	return out
}
