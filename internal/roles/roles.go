// Package roles implements the fixed-point expansion of a role table into
// closed roles: each role's scope set grows to include the scopes of every
// other role transitively activated by any of its scopes, until no role's
// scope set grows further.
package roles

import (
	"fmt"

	"github.com/scopeforge/scoperesolve/internal/scopes"
)

// Role is a single entry in the role table: a roleId (itself a scope-like
// string, wildcards permitted) and the scope set it directly grants.
type Role struct {
	RoleID string
	Scopes []string
}

// ClosedRole is a role whose Scopes field has reached its fixed-point
// expansion: closed under activation, per spec §4.2.
type ClosedRole struct {
	RoleID string
	Scopes []string
}

// Rejected describes a role excluded from the table at load time because it
// failed validation. Rejection never poisons the rest of the table.
type Rejected struct {
	RoleID string
	Err    error
}

// Activation returns the scope pattern that, if held, activates roleID.
func Activation(roleID string) string {
	return "assume:" + roleID
}

// maxExpansionRounds bounds the fixed-point iteration. The universe of
// scopes reachable by wildcard composition is finite (spec §4.2), so a well
// formed table always converges well under this; a table that doesn't is
// reported to the caller instead of looping forever.
const maxExpansionRounds = 4096

// ErrDidNotConverge is returned by Expand when the fixed-point iteration
// exceeded maxExpansionRounds without stabilizing.
var ErrDidNotConverge = fmt.Errorf("role expansion did not converge within %d rounds", maxExpansionRounds)

// Expand computes the closed roles for a role table. Roles with malformed
// scopes (containing a newline or an internal "*") are excluded and
// reported via the returned Rejected slice rather than failing the whole
// table.
func Expand(table []Role) ([]ClosedRole, []Rejected, error) {
	valid := make([]Role, 0, len(table))
	var rejected []Rejected

	for _, r := range table {
		if err := scopes.Validate(r.RoleID); err != nil {
			rejected = append(rejected, Rejected{RoleID: r.RoleID, Err: fmt.Errorf("invalid roleId: %w", err)})
			continue
		}
		if err := scopes.ValidateAll(r.Scopes); err != nil {
			rejected = append(rejected, Rejected{RoleID: r.RoleID, Err: fmt.Errorf("invalid scopes: %w", err)})
			continue
		}
		valid = append(valid, Role{RoleID: r.RoleID, Scopes: scopes.Normalize(r.Scopes)})
	}

	current := make(map[string][]string, len(valid))
	for _, r := range valid {
		current[r.RoleID] = r.Scopes
	}

	for round := 0; ; round++ {
		if round >= maxExpansionRounds {
			return nil, rejected, ErrDidNotConverge
		}
		changed := false
		for _, r := range valid {
			own := current[r.RoleID]
			grown := own
			for _, s := range own {
				for _, other := range valid {
					if other.RoleID == r.RoleID {
						continue
					}
					if scopes.Covers(s, Activation(other.RoleID)) {
						grown = scopes.MergeScopeSets(grown, current[other.RoleID])
					}
				}
			}
			if !sameSet(grown, own) {
				current[r.RoleID] = grown
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	closed := make([]ClosedRole, 0, len(valid))
	for _, r := range valid {
		closed = append(closed, ClosedRole{RoleID: r.RoleID, Scopes: current[r.RoleID]})
	}
	return closed, rejected, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
