package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes environment variables referenced as {{.VAR}} in raw
// YAML before parsing. Template syntax is used instead of $VAR expansion so
// guardrail regex patterns and secrets containing a literal $ survive
// untouched.
//
// Unset variables render as the empty string; required-field validation
// rejects the resulting config afterwards. Content that does not parse as a
// template is returned unchanged, so plain YAML always passes through.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
