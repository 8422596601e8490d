package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSubstituterExpandsSetVariables(t *testing.T) {
	t.Setenv("GUARD_TEST_HOST", "cache.internal")
	t.Setenv("GUARD_TEST_PORT", "6379")

	es := NewEnvSubstituter()
	out, err := es.Substitute("host: ${GUARD_TEST_HOST}\nport: ${GUARD_TEST_PORT}\n")
	require.NoError(t, err)
	assert.Equal(t, "host: cache.internal\nport: 6379\n", out)
}

func TestEnvSubstituterAppliesDefaults(t *testing.T) {
	es := NewEnvSubstituter()

	out, err := es.Substitute("level: ${GUARD_TEST_UNSET_LEVEL:-info}")
	require.NoError(t, err)
	assert.Equal(t, "level: info", out)

	// A set variable beats its default.
	t.Setenv("GUARD_TEST_SET_LEVEL", "debug")
	out, err = es.Substitute("level: ${GUARD_TEST_SET_LEVEL:-info}")
	require.NoError(t, err)
	assert.Equal(t, "level: debug", out)
}

func TestEnvSubstituterEmptyDefault(t *testing.T) {
	es := NewEnvSubstituter()

	// ${VAR:-} is a reference with an empty default, not a missing one.
	out, err := es.Substitute("value: '${GUARD_TEST_UNSET_VALUE:-}'")
	require.NoError(t, err)
	assert.Equal(t, "value: ''", out)
}

func TestEnvSubstituterUnsetWithoutDefaultFails(t *testing.T) {
	es := NewEnvSubstituter()

	_, err := es.Substitute("value: ${GUARD_TEST_DEFINITELY_UNSET}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GUARD_TEST_DEFINITELY_UNSET")
}

func TestEnvSubstituterLeavesPlainTextAlone(t *testing.T) {
	es := NewEnvSubstituter()

	content := "plain: text\ndollar: $HOME\nbraces: {not_a_var}\n"
	out, err := es.Substitute(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestEnvSubstituterPrefixEnforcement(t *testing.T) {
	t.Setenv("CACHEKIT_GUARD_HOST", "cache.internal")
	t.Setenv("HOME_SPOOF", "nope")

	es := NewEnvSubstituter(WithPrefix("CACHEKIT_GUARD_"))

	out, err := es.Substitute("host: ${CACHEKIT_GUARD_HOST}")
	require.NoError(t, err)
	assert.Equal(t, "host: cache.internal", out)

	_, err = es.Substitute("spoof: ${HOME_SPOOF}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefix")
}
