package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFeatureIntMap(t *testing.T) {
	got := parseFeatureIntMap("weather=5, currency=10,bad,empty=")
	assert.Equal(t, 5, got["weather"])
	assert.Equal(t, 10, got["currency"])
	_, ok := got["bad"]
	assert.False(t, ok)
}

func TestParseInt64Set(t *testing.T) {
	got := parseInt64Set("1, 2,3")
	assert.Len(t, got, 3)
	_, ok := got[2]
	assert.True(t, ok)
}

func TestGetboolDefaultsOnUnset(t *testing.T) {
	t.Setenv("SOME_UNSET_BOOL_KEY", "")
	assert.True(t, getbool("SOME_UNSET_BOOL_KEY", true))
}

func TestAuthConfig_IsAdmin(t *testing.T) {
	a := AuthConfig{AdminUserIDs: parseInt64Set("42,7")}
	assert.True(t, a.IsAdmin(42))
	assert.False(t, a.IsAdmin(1))
}
