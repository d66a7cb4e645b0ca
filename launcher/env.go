package launcher

import "fmt"

/**
 * Environment variable type.
 */
type EnvVar struct {
	Key string
	Val string
}

/**
 * Represents a list of environment variables.
 */
type EnvVars []EnvVar

/**
 * Convert environment variables to a string array in
 * the form of KEY=VALUE.
 * @return the string array
 */
func (env EnvVars) ToStringArray() []string {
	var result []string

	for _, e := range env {
		result = append(result, fmt.Sprintf("%s=%s", e.Key, e.Val))
	}
	return result
}

// DefaultEnv is the fixed environment handed to every sandboxed command.
// The reference CLI exposes no --env flag, so this is the whole of it.
func DefaultEnv() EnvVars {
	return EnvVars{
		{Key: "PATH", Val: "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"},
		{Key: "HOME", Val: "/root"},
		{Key: "TERM", Val: "xterm"},
		{Key: "LANG", Val: "C.UTF-8"},
	}
}
