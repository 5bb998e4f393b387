package scopes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("rejects empty scope", func(t *testing.T) {
		require.Error(t, Validate(""))
	})

	t.Run("rejects newline", func(t *testing.T) {
		require.Error(t, Validate("a\nb"))
	})

	t.Run("rejects internal wildcard", func(t *testing.T) {
		require.Error(t, Validate("a*b"))
	})

	t.Run("accepts trailing wildcard", func(t *testing.T) {
		require.NoError(t, Validate("a*"))
	})

	t.Run("accepts bare wildcard", func(t *testing.T) {
		require.NoError(t, Validate("*"))
	})

	t.Run("accepts literal", func(t *testing.T) {
		require.NoError(t, Validate("assume:ch-1"))
	})
}

func TestCompare(t *testing.T) {
	// a* < a < aa < aab
	ordered := []string{"a*", "a", "aa", "aab"}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Truef(t, Less(ordered[i], ordered[i+1]), "%q should sort before %q", ordered[i], ordered[i+1])
	}

	t.Run("star is the minimum", func(t *testing.T) {
		assert.True(t, Less("*", "a"))
		assert.True(t, Less("*", "a*"))
	})

	t.Run("equal scopes compare equal", func(t *testing.T) {
		assert.Equal(t, 0, Compare("abc", "abc"))
	})

	t.Run("shared-prefix pattern still precedes its match", func(t *testing.T) {
		assert.True(t, Less("ab*", "ab"))
		assert.True(t, Less("ab", "abc"))
	})
}

func TestCovers(t *testing.T) {
	t.Run("literal covers only itself", func(t *testing.T) {
		assert.True(t, Covers("a", "a"))
		assert.False(t, Covers("a", "ab"))
	})

	t.Run("pattern covers prefixed literal", func(t *testing.T) {
		assert.True(t, Covers("a*", "a"))
		assert.True(t, Covers("a*", "ab"))
		assert.False(t, Covers("a*", "b"))
	})

	t.Run("star covers everything", func(t *testing.T) {
		assert.True(t, Covers("*", "anything"))
		assert.True(t, Covers("*", "anything*"))
	})

	t.Run("required pattern needs a covering pattern", func(t *testing.T) {
		assert.True(t, Covers("r*", "r*"))
		assert.True(t, Covers("r*", "ra*"))
		assert.False(t, Covers("ra*", "r*"))
		assert.False(t, Covers("r", "r*"), "a held literal cannot cover a required pattern")
	})
}

func TestNormalize(t *testing.T) {
	t.Run("scenario 5 from spec", func(t *testing.T) {
		got := Normalize([]string{"abc", "ab*", "a", "ab"})
		assertSameSet(t, []string{"ab*", "a"}, got)
	})

	t.Run("idempotent", func(t *testing.T) {
		once := Normalize([]string{"abc", "ab*", "a", "ab"})
		twice := Normalize(once)
		assert.Equal(t, once, twice)
	})

	t.Run("wildcard absorbs everything", func(t *testing.T) {
		got := Normalize([]string{"read:tables", "*", "write:tables"})
		assert.Equal(t, []string{"*"}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, Normalize(nil))
	})
}

func TestMergeScopeSets(t *testing.T) {
	t.Run("commutative", func(t *testing.T) {
		a := Normalize([]string{"a", "assume:ch-1"})
		b := Normalize([]string{"assume:ch-2", "b*"})
		ab := MergeScopeSets(a, b)
		ba := MergeScopeSets(b, a)
		assertSameSet(t, ab, ba)
	})

	t.Run("drops scopes covered by the other set's pattern", func(t *testing.T) {
		a := Normalize([]string{"a*"})
		b := Normalize([]string{"ab", "ac"})
		got := MergeScopeSets(a, b)
		assert.Equal(t, []string{"a*"}, got)
	})

	t.Run("union of disjoint sets stays sorted", func(t *testing.T) {
		a := Normalize([]string{"x"})
		b := Normalize([]string{"y"})
		got := MergeScopeSets(a, b)
		assertSameSet(t, []string{"x", "y"}, got)
		for i := 0; i < len(got)-1; i++ {
			assert.True(t, Less(got[i], got[i+1]) || got[i] == got[i+1])
		}
	})
}

func TestSatisfiesMonotonicity(t *testing.T) {
	base := []string{"read:tables"}
	extended := []string{"read:tables", "write:tables"}
	required := []string{"read:tables"}

	assert.True(t, Satisfies(base, required))
	assert.True(t, Satisfies(extended, required))
}

func assertSameSet(t *testing.T, want, got []string) {
	t.Helper()
	assert.ElementsMatch(t, want, got)
}
