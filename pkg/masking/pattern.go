package masking

import (
	"log/slog"
	"regexp"
)

// Pattern is a regex redaction rule before compilation.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// BuiltinPatterns returns the credential patterns applied to telemetry.
// Order matters: block-level patterns run before key/value patterns.
func BuiltinPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "certificate",
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "PEM certificates and private keys",
		},
		{
			Name:        "dsn_password",
			Pattern:     `(?i)\b(postgres(?:ql)?|mysql|redis|amqp)://([^:/@\s]+):[^@\s]+@`,
			Replacement: `${1}://${2}:__MASKED_PASSWORD__@`,
			Description: "Passwords embedded in connection strings",
		},
		{
			Name:        "bearer",
			Pattern:     `(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Replacement: `Bearer __MASKED_TOKEN__`,
			Description: "Authorization bearer tokens",
		},
		{
			Name:        "provider_key",
			Pattern:     `\bsk-[A-Za-z0-9_\-]{20,}`,
			Replacement: `__MASKED_API_KEY__`,
			Description: "OpenAI-compatible provider keys",
		},
		{
			Name:        "api_key",
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		{
			Name:        "password",
			Pattern:     `(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		{
			Name:        "token",
			Pattern:     `(?i)(?:token|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		{
			Name:        "aws_access_key",
			Pattern:     `\bAKIA[A-Z0-9]{16}\b`,
			Replacement: `__MASKED_AWS_KEY__`,
			Description: "AWS access key ids",
		},
	}
}

// compilePatterns compiles patterns in order.
// Invalid patterns are logged and skipped.
func compilePatterns(patterns []Pattern) []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        p.Name,
			Regex:       re,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}
	return compiled
}
