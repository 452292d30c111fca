package processproxy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// tokenAllowlist is the parsed contents of a token allow-list file: a
// flat list of tokens a native endpoint may present during the
// handshake.
type tokenAllowlist struct {
	Tokens []string `yaml:"tokens"`
}

// LoadTokenAllowlist reads a YAML file listing acceptable handshake
// tokens and returns a TokenValidator that accepts exactly those. The
// controller's authentication policy is otherwise its own concern (§1) —
// this is one concrete, optional implementation of it.
func LoadTokenAllowlist(path string) (TokenValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token allowlist: %w", err)
	}

	var list tokenAllowlist
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse token allowlist: %w", err)
	}

	allowed := make(map[string]struct{}, len(list.Tokens))
	for _, t := range list.Tokens {
		allowed[t] = struct{}{}
	}

	return func(token string) error {
		if _, ok := allowed[token]; !ok {
			return fmt.Errorf("token not in allowlist")
		}
		return nil
	}, nil
}
