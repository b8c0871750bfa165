package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casecore/internal/failure"
)

func TestLookup_NamedThenReferenced(t *testing.T) {
	mc := newTestContext(ModeWrite)
	ctx := context.Background()

	_, err := Strip(mc, Named("user-id", AnyString("u-1")))
	require.NoError(t, err)

	got, err := Strip(mc, Lookup("user-id"))
	require.NoError(t, err)
	assert.Equal(t, "u-1", got)

	errs, err := Check(ctx, mc, Lookup("user-id"), 17)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "'number' is not a string", errs[0].Message)
}

func TestLookup_Unknown(t *testing.T) {
	mc := newTestContext(ModeRead)
	_, err := Strip(mc, Lookup("missing"))
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))
}

func TestLookup_ConflictingRedefinition(t *testing.T) {
	mc := newTestContext(ModeWrite)
	_, err := Strip(mc, Named("x", AnyString("one")))
	require.NoError(t, err)

	_, err = Strip(mc, Named("x", AnyString("one")))
	require.NoError(t, err, "identical redefinition is fine")

	_, err = Strip(mc, Named("x", AnyNumber(1)))
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))
}

func TestTables_ScopeSharesLookupsOnly(t *testing.T) {
	root := NewTables()
	require.NoError(t, root.SaveLookupable("shared", "v"))
	root.AddDefaultVariable("name", AnyString("default"))

	scoped := root.Scope()
	_, ok := scoped.LookupMatcher("shared")
	assert.True(t, ok)
	_, ok = scoped.LookupVariable("name")
	assert.False(t, ok)

	require.NoError(t, scoped.SaveLookupable("later", 1))
	_, ok = root.LookupMatcher("later")
	assert.True(t, ok)
	assert.Len(t, root.Lookups(), 2)
}

func TestStateVariable(t *testing.T) {
	ctx := context.Background()
	tables := NewTables()
	tables.AddDefaultVariable("userId", AnyString("42"))

	write := newTestContext(ModeWrite, WithTables(tables))
	got, err := Strip(write, StateVariable("userId"))
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	tables.AddStateVariable("userId", "777")
	read := newTestContext(ModeRead, WithTables(tables))

	errs, err := Check(ctx, read, StateVariable("userId"), "777")
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = Check(ctx, read, StateVariable("userId"), "42")
	require.NoError(t, err)
	assert.Len(t, errs, 1, "state values are compared exactly in read mode")

	desc, err := Describe(read, StateVariable("userId"))
	require.NoError(t, err)
	assert.Equal(t, "{{userId}}", desc)

	_, err = Strip(read, StateVariable("unknown"))
	assert.True(t, failure.IsConfiguration(err))
}
