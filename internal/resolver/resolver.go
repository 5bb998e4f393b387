// Package resolver compiles a closed role table into a character-level DFA
// so that querying "every scope granted by holding assume:<pattern>" costs
// O(|query|) instead of a linear scan of the role table (spec §4.3).
//
// The DFA is built once from a snapshot of closed roles and is immutable
// thereafter; callers that need to pick up role-table changes build a new
// Resolver and swap it in (see internal/resolvercache for the hot-reload
// wrapper around this).
package resolver

import (
	"sort"
	"strings"

	"github.com/scopeforge/scoperesolve/internal/roles"
	"github.com/scopeforge/scoperesolve/internal/scopes"
)

// state is one node of the activation-string trie. Depth d of the trie
// corresponds to having consumed d characters of "assume:<roleId>".
type state struct {
	trans map[byte]int // next state by literal character at this depth
	def   int          // transition for any character with no entry in trans
	accept []int        // indices into setTable granted by stopping exactly here
	subtree []int        // accept, plus every accept index reachable below this state
}

// Resolver answers scope-expansion queries against a compiled role table.
type Resolver struct {
	states   []*state
	setTable [][]string // deduplicated, normalized scope sets owned by roles
	root     int
	deadIdx  int
	sinks    map[string]int // memoized wildcard-sink states, keyed by joined accept set
}

// Build compiles a Resolver from a closed role table. Roles with malformed
// activation strings were already filtered out by roles.Expand; Build does
// not re-validate.
func Build(table []roles.ClosedRole) *Resolver {
	r := &Resolver{sinks: map[string]int{}}

	type entry struct {
		activation string
		setIdx     int
	}
	setIndex := map[string]int{}
	entries := make([]entry, 0, len(table))
	for _, role := range table {
		norm := scopes.Normalize(role.Scopes)
		key := strings.Join(norm, "\x00")
		idx, ok := setIndex[key]
		if !ok {
			idx = len(r.setTable)
			setIndex[key] = idx
			r.setTable = append(r.setTable, norm)
		}
		entries = append(entries, entry{activation: roles.Activation(role.RoleID), setIdx: idx})
	}

	sort.Slice(entries, func(i, j int) bool {
		return scopes.Less(entries[i].activation, entries[j].activation)
	})

	activations := make([]string, len(entries))
	setIdx := make([]int, len(entries))
	for i, e := range entries {
		activations[i] = e.activation
		setIdx[i] = e.setIdx
	}

	r.deadIdx = r.newState()

	if len(entries) == 0 {
		r.root = r.deadIdx
		return r
	}

	r.root = r.build(activations, setIdx, 0, len(entries), 0, nil)
	return r
}

func (r *Resolver) newState() int {
	r.states = append(r.states, &state{trans: map[byte]int{}})
	return len(r.states) - 1
}

// build constructs the subtrie over entries[lo:hi] at trie depth, given the
// set of scope-set indices inherited from an ancestor "*"-terminated role,
// and returns the index of the resulting state.
func (r *Resolver) build(activations []string, setIdx []int, lo, hi, depth int, inherited []int) int {
	idx := r.newState()

	accept := append([]int(nil), inherited...)
	newInherited := append([]int(nil), inherited...)

	i := lo
	for i < hi {
		act := activations[i]
		switch {
		case len(act) == depth:
			accept = append(accept, setIdx[i])
			i++
		case len(act) == depth+1 && act[depth] == '*':
			accept = append(accept, setIdx[i])
			newInherited = append(newInherited, setIdx[i])
			i++
		default:
			goto partition
		}
	}
partition:
	st := r.states[idx]
	st.accept = dedupeInts(accept)

	j := i
	for j < hi {
		c := activations[j][depth]
		k := j
		for k < hi && activations[k][depth] == c {
			k++
		}
		child := r.build(activations, setIdx, j, k, depth+1, newInherited)
		st.trans[c] = child
		j = k
	}

	if len(newInherited) > 0 {
		st.def = r.sinkState(dedupeInts(newInherited))
	} else {
		st.def = r.deadIdx
	}

	union := append([]int(nil), st.accept...)
	for _, child := range st.trans {
		union = append(union, r.states[child].subtree...)
	}
	union = append(union, r.states[st.def].subtree...)
	st.subtree = dedupeInts(union)

	return idx
}

// sinkState returns the (memoized) absorbing wildcard state for a given
// inherited accept set: every further character stays in the same state and
// grants the same scopes. Roles that end in "*" above the query's remaining
// characters are represented this way so the DFA stays finite regardless of
// query length.
func (r *Resolver) sinkState(set []int) int {
	key := joinInts(set)
	if idx, ok := r.sinks[key]; ok {
		return idx
	}
	idx := r.newState()
	st := r.states[idx]
	st.accept = set
	st.subtree = set
	st.def = idx
	r.sinks[key] = idx
	return idx
}

// Resolve returns the normalized union of scope sets granted by holding the
// single scope query (literal or "*"-suffixed). query need not begin with
// "assume:"; callers typically restrict calls to scopes with that prefix
// since roles never activate on anything else, but Resolve itself has no
// opinion on the prefix.
func (r *Resolver) Resolve(query string) []string {
	star := strings.IndexByte(query, '*')
	litLen := len(query)
	if star >= 0 {
		litLen = star
	}

	cur := r.root
	seen := map[int]bool{}
	var acc []int
	addAll := func(idxs []int) {
		for _, id := range idxs {
			if !seen[id] {
				seen[id] = true
				acc = append(acc, id)
			}
		}
	}

	for i := 0; i < litLen; i++ {
		st := r.states[cur]
		c := query[i]
		if next, ok := st.trans[c]; ok {
			cur = next
		} else {
			cur = st.def
		}
	}

	final := r.states[cur]
	if star >= 0 {
		addAll(final.subtree)
	} else {
		addAll(final.accept)
	}

	var result []string
	for _, id := range acc {
		result = scopes.MergeScopeSets(result, r.setTable[id])
	}
	return result
}

// Expand returns the normalized closure of a scope set: every held scope
// stays in the result (a client's directly granted scopes remain valid even
// after expansion), plus the union of whatever each "assume:"-prefixed entry
// activates via Resolve.
func (r *Resolver) Expand(held []string) []string {
	result := scopes.Normalize(held)
	for _, s := range held {
		if strings.HasPrefix(s, "assume:") {
			result = scopes.MergeScopeSets(result, r.Resolve(s))
		}
	}
	return result
}

func dedupeInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func joinInts(in []int) string {
	var b strings.Builder
	for _, v := range in {
		b.WriteByte(byte(v))
		b.WriteByte(byte(v >> 8))
		b.WriteByte(byte(v >> 16))
		b.WriteByte(byte(v >> 24))
	}
	return b.String()
}
