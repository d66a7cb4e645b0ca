package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvVarsToStringArray(t *testing.T) {
	env := EnvVars{{Key: "FOO", Val: "bar"}, {Key: "BAZ", Val: "qux"}}
	assert.Equal(t, []string{"FOO=bar", "BAZ=qux"}, env.ToStringArray())
}

func TestDefaultEnvHasPath(t *testing.T) {
	env := DefaultEnv()
	found := false
	for _, e := range env {
		if e.Key == "PATH" {
			found = true
		}
	}
	assert.True(t, found, "default environment must define PATH")
}
