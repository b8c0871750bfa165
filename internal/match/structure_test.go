package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AggregatesIndependentFailures(t *testing.T) {
	mc := newTestContext(ModeRead).At("body")
	expected := map[string]any{
		"id":    AnyString("abc"),
		"count": AnyNumber(1),
		"name":  AnyString("ok"),
	}
	actual := map[string]any{
		"id":    123,
		"count": "many",
		"name":  "fine",
	}

	errs, err := Check(context.Background(), mc, expected, actual)
	require.NoError(t, err)
	require.Len(t, errs, 2, "each failing field yields its own error")

	assert.Equal(t, "body.count", errs[0].Path())
	assert.Equal(t, "'string' is not a number", errs[0].Message)
	assert.Equal(t, "body.id", errs[1].Path())
	assert.Equal(t, "'number' is not a string", errs[1].Message)
	assert.Equal(t, 123, errs[1].Actual)
}

func TestCascading(t *testing.T) {
	ctx := context.Background()

	exactInsideType := ShapedLike(map[string]any{
		"free":   "anything",
		"pinned": Exactly("v1"),
	})
	mc := newTestContext(ModeRead)

	errs, err := Check(ctx, mc, exactInsideType, map[string]any{"free": "other", "pinned": "v1"})
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = Check(ctx, mc, exactInsideType, map[string]any{"free": "other", "pinned": "v2"})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "pinned", errs[0].Path())

	desc, err := Describe(mc, exactInsideType)
	require.NoError(t, err)
	assert.Equal(t, `{ free: "anything", pinned: "v1" }`, desc)
}

func TestAnd(t *testing.T) {
	mc := newTestContext(ModeRead)
	m := And(StringPrefix("a", nil), StringSuffix(nil, "z"))

	assert.Empty(t, checkMessages(t, mc, m, "abcz"))
	assert.Len(t, checkMessages(t, mc, m, "bcd"), 2)

	desc, err := Describe(mc, m)
	require.NoError(t, err)
	assert.Equal(t, `"a" + <any string> and <any string> + "z"`, desc)

	_, err = Strip(mc, And())
	require.Error(t, err)
}

func TestArrayEach(t *testing.T) {
	mc := newTestContext(ModeRead)
	m := ArrayEach(map[string]any{"id": AnyString("x")}, 1)

	assert.Empty(t, checkMessages(t, mc, m, []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}))
	assert.Equal(t, []string{"expected at least 1 entries, got 0"}, checkMessages(t, mc, m, []any{}))
	assert.Equal(t, []string{"'string' is not an array"}, checkMessages(t, mc, m, "nope"))

	errs, err := Check(context.Background(), mc, m, []any{map[string]any{"id": "a"}, map[string]any{"id": 1}})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "[1].id", errs[0].Path())

	got, err := Strip(mc, ArrayEach("x", 3))
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "x", "x"}, got)
}
