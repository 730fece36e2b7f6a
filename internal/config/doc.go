// Package config loads the upstream list (§6, INI-like via gopkg.in/ini.v1)
// and the policy ruleset file into the types the rest of the relay
// consumes.
package config
