package identity

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// FilterAndSort keeps the patients whose name contains query, ignoring case,
// and sorts them alphabetically by name the way a person reads a roster, so
// "adam" sits before "Bob". Patients with identical names keep their input
// order in both directions. The input slice is not modified.
func FilterAndSort(patients []*Patient, query string, ascending bool) []*Patient {
	q := strings.ToLower(query)
	out := make([]*Patient, 0, len(patients))
	for _, p := range patients {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}

	// Collators are not safe for concurrent use.
	col := collate.New(language.Und)
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return col.CompareString(out[i].Name, out[j].Name) < 0
		}
		return col.CompareString(out[j].Name, out[i].Name) < 0
	})
	return out
}
