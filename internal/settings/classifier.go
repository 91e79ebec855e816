package settings

import "strings"

// DefaultSensitiveTokens are key-name fragments that mark a value as a credential.
var DefaultSensitiveTokens = []string{
	"key", "secret", "token", "private", "password", "passphrase",
	"mnemonic", "seed", "credential", "auth", "jwt",
}

// hardTokens mark keys that stay encrypted whatever the schema says.
var hardTokens = []string{"private", "secret", "password", "mnemonic", "seed"}

// Classification explains why a key was judged sensitive or not.
type Classification struct {
	Sensitive bool
	Reason    string
}

// Classifier decides which entries must be encrypted. Matching is by substring on the
// lowercased key, so "apikey" and "privkey" count as matches; unknown credential-like
// names therefore err on the side of encryption.
type Classifier struct {
	tokens []string
	schema *Schema
}

// NewClassifier builds a classifier from the default tokens plus extra, with optional
// per-key schema overrides.
func NewClassifier(extra []string, schema *Schema) *Classifier {
	tokens := append([]string(nil), DefaultSensitiveTokens...)
	for _, t := range extra {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return &Classifier{tokens: tokens, schema: schema}
}

// Classify applies, in order: always-encrypted categories, hard tokens, an explicit
// schema decision, then the token heuristic.
func (c *Classifier) Classify(key string, category Category) Classification {
	k := strings.ToLower(key)
	if category.AlwaysEncrypted() {
		return Classification{Sensitive: true, Reason: "category " + string(category)}
	}
	for _, t := range hardTokens {
		if strings.Contains(k, t) {
			return Classification{Sensitive: true, Reason: "key contains " + t}
		}
	}
	if rule, ok := c.schema.Rule(key); ok && rule.Sensitive != nil {
		return Classification{Sensitive: *rule.Sensitive, Reason: "schema"}
	}
	for _, t := range c.tokens {
		if strings.Contains(k, t) {
			return Classification{Sensitive: true, Reason: "key contains " + t}
		}
	}
	return Classification{Sensitive: false, Reason: "no sensitive token"}
}
