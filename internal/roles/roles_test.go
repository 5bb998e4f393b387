package roles

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_Chain(t *testing.T) {
	// Chain of 500 roles: ch-i -> assume:ch-{i+1}, ch-500 -> special-scope.
	var table []Role
	for i := 0; i < 500; i++ {
		table = append(table, Role{
			RoleID: fmt.Sprintf("ch-%d", i),
			Scopes: []string{fmt.Sprintf("assume:ch-%d", i+1)},
		})
	}
	table = append(table, Role{RoleID: "ch-500", Scopes: []string{"special-scope"}})

	closed, rejected, err := Expand(table)
	require.NoError(t, err)
	assert.Empty(t, rejected)

	var ch0 ClosedRole
	for _, c := range closed {
		if c.RoleID == "ch-0" {
			ch0 = c
		}
	}
	assert.Contains(t, ch0.Scopes, "special-scope")
	assert.Contains(t, ch0.Scopes, "assume:ch-500")
}

func TestExpand_RejectsMalformedScopes(t *testing.T) {
	table := []Role{
		{RoleID: "bad", Scopes: []string{"a\nb"}},
		{RoleID: "good", Scopes: []string{"x"}},
	}
	closed, rejected, err := Expand(table)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "bad", rejected[0].RoleID)
	require.Len(t, closed, 1)
	assert.Equal(t, "good", closed[0].RoleID)
}

func TestExpand_ClosureFixedPoint(t *testing.T) {
	table := []Role{
		{RoleID: "a", Scopes: []string{"A", "assume:b"}},
		{RoleID: "b", Scopes: []string{"B", "assume:c"}},
		{RoleID: "c", Scopes: []string{"C"}},
	}
	closed, rejected, err := Expand(table)
	require.NoError(t, err)
	assert.Empty(t, rejected)

	byID := map[string]ClosedRole{}
	for _, c := range closed {
		byID[c.RoleID] = c
	}
	assert.ElementsMatch(t, []string{"A", "B", "C", "assume:b", "assume:c"}, byID["a"].Scopes)

	// Fixed-point closure (spec invariant 5): re-expanding through the
	// closed role's own scopes yields nothing new.
	reExpanded, _, err := Expand([]Role{
		{RoleID: "a", Scopes: byID["a"].Scopes},
		{RoleID: "b", Scopes: byID["b"].Scopes},
		{RoleID: "c", Scopes: byID["c"].Scopes},
	})
	require.NoError(t, err)
	for _, c := range reExpanded {
		if c.RoleID == "a" {
			assert.ElementsMatch(t, byID["a"].Scopes, c.Scopes)
		}
	}
}

func TestExpand_HandlesCycles(t *testing.T) {
	table := []Role{
		{RoleID: "a", Scopes: []string{"assume:b"}},
		{RoleID: "b", Scopes: []string{"assume:a", "B"}},
	}
	closed, rejected, err := Expand(table)
	require.NoError(t, err)
	assert.Empty(t, rejected)

	byID := map[string]ClosedRole{}
	for _, c := range closed {
		byID[c.RoleID] = c
	}
	assert.Contains(t, byID["a"].Scopes, "B")
	assert.Contains(t, byID["b"].Scopes, "B")
}

func TestExpand_WildcardRoleIDActivation(t *testing.T) {
	table := []Role{
		{RoleID: "admin", Scopes: []string{"assume:svc-*"}},
		{RoleID: "svc-*", Scopes: []string{"SERVICE"}},
	}
	closed, _, err := Expand(table)
	require.NoError(t, err)

	byID := map[string]ClosedRole{}
	for _, c := range closed {
		byID[c.RoleID] = c
	}
	assert.Contains(t, byID["admin"].Scopes, "SERVICE")
}
