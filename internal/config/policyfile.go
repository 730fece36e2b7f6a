package config

import (
	"github.com/sorz/moproxy-go/internal/policy"
)

// LoadPolicy parses the policy ruleset file at path, if set. An empty
// path yields an empty, always-permissive Policy.
func LoadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return &policy.Policy{}, nil
	}
	return policy.LoadFile(path)
}
