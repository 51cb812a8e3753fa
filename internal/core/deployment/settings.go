package deployment

import (
	"sort"
	"strings"

	"github.com/artpar/fnpublish/internal/core/domain"
)

// =============================================================================
// Configuration Delta
// =============================================================================

// ConfigurationDelta is the contract a convergence wait checks against the
// settings read back from the deployment-control endpoint.
//
// Matching is by exact key and exact value, unlike domain.Settings and
// MergeSettings. The deployment-control endpoint echoes keys as stored.
type ConfigurationDelta struct {
	MustHave    map[string]string
	MustNotHave map[string]string
}

// Pending returns the keys that still block convergence, sorted.
func (d ConfigurationDelta) Pending(remote map[string]string) []string {
	var pending []string
	for k, want := range d.MustHave {
		if got, ok := remote[k]; !ok || got != want {
			pending = append(pending, k)
		}
	}
	for k, forbidden := range d.MustNotHave {
		if got, ok := remote[k]; ok && got == forbidden {
			pending = append(pending, k)
		}
	}
	sort.Strings(pending)
	return pending
}

// Satisfied reports whether remote meets the delta.
func (d ConfigurationDelta) Satisfied(remote map[string]string) bool {
	return len(d.Pending(remote)) == 0
}

// IsEmpty reports whether the delta constrains nothing.
func (d ConfigurationDelta) IsEmpty() bool {
	return len(d.MustHave) == 0 && len(d.MustNotHave) == 0
}

// =============================================================================
// Settings Merge
// =============================================================================

// ConflictResolver decides whether the local value of key replaces a differing
// remote value.
type ConflictResolver func(key, remoteValue, localValue string) bool

// MergeReport lists what MergeSettings did, by key.
type MergeReport struct {
	Set         []string
	Overwritten []string
	Kept        []string
	Removed     []string
}

// MergeSettings merges local and additional settings onto remote and returns
// a new map. Keys compare case-insensitively and so do values when detecting a
// conflict. Conflicts are handed to resolve. Additional settings always win;
// an additional setting with an empty value removes the key.
func MergeSettings(remote domain.Settings, local, additional map[string]string, resolve ConflictResolver) (domain.Settings, MergeReport) {
	result := remote.Clone()
	var report MergeReport

	for _, k := range sortedKeys(local) {
		v := local[k]
		cur, ok := result.Lookup(k)
		if ok && !strings.EqualFold(cur, v) {
			if resolve != nil && resolve(k, cur, v) {
				result.Set(k, v)
				report.Overwritten = append(report.Overwritten, k)
			} else {
				report.Kept = append(report.Kept, k)
			}
			continue
		}
		result.Set(k, v)
		report.Set = append(report.Set, k)
	}

	for _, k := range sortedKeys(additional) {
		v := additional[k]
		if v != "" {
			result.Set(k, v)
			report.Set = append(report.Set, k)
			continue
		}
		if result.Delete(k) {
			report.Removed = append(report.Removed, k)
		}
	}

	return result, report
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
