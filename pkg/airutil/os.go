package airutil

import "github.com/drone/envsubst"

// ExpandEnv replaces ${VAR} references using the process
// environment. If the string cannot be parsed it is returned
// unchanged.
func ExpandEnv(s string) string {
	val, err := envsubst.EvalEnv(s)
	if err != nil {
		return s
	}
	return val
}
