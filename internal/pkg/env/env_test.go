package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	Env = map[string]string{"SUBSYNC_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("SUBSYNC_TEST_KEY", "from-os")

	assert.Equal(t, "from-file", GetEnv("SUBSYNC_TEST_KEY", "default"))
	assert.Equal(t, "default", GetEnv("SUBSYNC_TEST_UNSET", "default"))
}

func TestRequireListsMissingKeys(t *testing.T) {
	Env = nil
	t.Setenv("SUBSYNC_TEST_A", "a")
	t.Setenv("SUBSYNC_TEST_B", "  ")

	_, err := Require("SUBSYNC_TEST_A", "SUBSYNC_TEST_B", "SUBSYNC_TEST_C")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUBSYNC_TEST_B, SUBSYNC_TEST_C")
	assert.NotContains(t, err.Error(), "SUBSYNC_TEST_A")

	values, err := Require("SUBSYNC_TEST_A")
	require.NoError(t, err)
	assert.Equal(t, "a", values["SUBSYNC_TEST_A"])
}
