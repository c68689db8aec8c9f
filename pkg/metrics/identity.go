// Package metrics computes per-person engineering flow and review metrics from
// reconstructed timelines and pull request histories. Nothing here performs I/O,
// and unusable data points are skipped rather than reported as errors.
package metrics

import (
	"strings"

	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

// IdentityKey is the comparison key for an identity: uniqueName, else id, else
// display name, lowercased and trimmed.
func IdentityKey(ref types.IdentityRef) string {
	for _, v := range []string{ref.UniqueName, ref.ID, ref.DisplayName} {
		if k := normalize(v); k != "" {
			return k
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Person is someone metrics are attributed to.
type Person struct {
	ID          string   `json:"id,omitempty"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Aliases     []string `json:"-"` // extra identifiers that also refer to this person
}

// PersonFromIdentity builds a person from an identity reference. The unique name
// doubles as the email address, which is how the service issues it.
func PersonFromIdentity(ref types.IdentityRef) Person {
	return Person{ID: ref.ID, Email: ref.UniqueName, DisplayName: ref.DisplayName}
}

// Key returns the person's normalization key.
func (p Person) Key() string {
	return IdentityKey(types.IdentityRef{UniqueName: p.Email, ID: p.ID, DisplayName: p.DisplayName})
}

// aliasSet is every normalized identifier that refers to the person.
type aliasSet map[string]bool

func (p Person) aliases() aliasSet {
	set := make(aliasSet, 3+len(p.Aliases))
	for _, v := range append([]string{p.ID, p.Email}, p.Aliases...) {
		if k := normalize(v); k != "" {
			set[k] = true
		}
	}
	if len(set) == 0 {
		if k := normalize(p.DisplayName); k != "" {
			set[k] = true
		}
	}
	return set
}

// matches compares id and unique name; a ref carrying neither falls back to its display name.
func (a aliasSet) matches(ref types.IdentityRef) bool {
	if ref.ID == "" && ref.UniqueName == "" {
		k := normalize(ref.DisplayName)
		return k != "" && a[k]
	}
	for _, v := range []string{ref.ID, ref.UniqueName} {
		if k := normalize(v); k != "" && a[k] {
			return true
		}
	}
	return false
}
