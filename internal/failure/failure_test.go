package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Configuration([]string{"response", "body"}, "the server was never called")
	assert.Equal(t, "CASE_CONFIGURATION_ERROR: the server was never called (at response.body)", err.Error())

	err = Core(nil, "unknown matcher kind %q", "nope")
	assert.Equal(t, `CASE_CORE_ERROR: unknown matcher kind "nope"`, err.Error())
}

func TestError_LocationIsCopied(t *testing.T) {
	loc := []string{"a", "b"}
	err := Core(loc, "x")
	loc[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, err.Location)
}

func TestPredicates_Wrapped(t *testing.T) {
	base := Trigger(errors.New("boom"), "trigger for %q failed", "GET /things")
	wrapped := fmt.Errorf("run: %w", base)

	assert.True(t, IsTrigger(wrapped))
	assert.False(t, IsCore(wrapped))
	assert.False(t, IsConfiguration(wrapped))
	assert.Equal(t, KindTrigger, KindOf(wrapped))
	assert.ErrorContains(t, wrapped, "boom")
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindCore, KindOf(errors.New("plain")))
}

func TestWrap_KeepsExistingKind(t *testing.T) {
	cfg := Configuration(nil, "bad config")
	got := Wrap(KindCore, fmt.Errorf("outer: %w", cfg))
	assert.Equal(t, KindConfiguration, got.Kind)

	plain := Wrap(KindBroker, errors.New("503"))
	assert.Equal(t, KindBroker, plain.Kind)
	assert.Equal(t, "503", plain.Message)
}

func TestKind_Valid(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, Kind("CASE_SOMETHING_ELSE").Valid())
}
