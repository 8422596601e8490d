package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// EnvSubstituter expands ${VAR} and ${VAR:-default} references in raw
// configuration text before it is parsed. A reference without a default
// to an unset variable is an error, not an empty string.
type EnvSubstituter struct {
	prefix string
}

// EnvSubstituterOption configures substitution behavior.
type EnvSubstituterOption func(*EnvSubstituter)

// WithPrefix requires every referenced variable to carry the given
// prefix.
func WithPrefix(prefix string) EnvSubstituterOption {
	return func(es *EnvSubstituter) {
		es.prefix = prefix
	}
}

// NewEnvSubstituter creates a substituter.
func NewEnvSubstituter(opts ...EnvSubstituterOption) *EnvSubstituter {
	es := &EnvSubstituter{}
	for _, opt := range opts {
		opt(es)
	}
	return es
}

// Substitute expands every environment variable reference in content.
func (es *EnvSubstituter) Substitute(content string) (string, error) {
	var substErr error

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := groups[2] != ""
		defaultValue := groups[3]

		if es.prefix != "" && !strings.HasPrefix(name, es.prefix) {
			if substErr == nil {
				substErr = fmt.Errorf("environment variable %s does not carry required prefix %s", name, es.prefix)
			}
			return match
		}

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return defaultValue
		}

		if substErr == nil {
			substErr = fmt.Errorf("environment variable %s is not set and has no default", name)
		}
		return match
	})

	if substErr != nil {
		return "", substErr
	}
	return result, nil
}
