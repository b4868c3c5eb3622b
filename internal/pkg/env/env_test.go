package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedMap(t *testing.T) {
	Env = map[string]string{"PAYFOX_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("PAYFOX_TEST_KEY", "from-os")

	assert.Equal(t, "from-file", GetEnv("PAYFOX_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("PAYFOX_MISSING_KEY", "def"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":   "42",
		"INT_BAD":  "x",
		"DUR_OK":   "90s",
		"DUR_BAD":  "soon",
		"BOOL_ONE": "1",
		"BOOL_NO":  "nope",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 42, GetInt("INT_OK", 1))
	assert.Equal(t, 1, GetInt("INT_BAD", 1))
	assert.Equal(t, 90*time.Second, GetDuration("DUR_OK", time.Second))
	assert.Equal(t, time.Second, GetDuration("DUR_BAD", time.Second))
	assert.True(t, GetBool("BOOL_ONE", false))
	assert.False(t, GetBool("BOOL_NO", true))
	assert.True(t, GetBool("BOOL_MISSING", true))
}
