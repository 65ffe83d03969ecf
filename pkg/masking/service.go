package masking

import (
	"log/slog"
)

// Service redacts credentials from agent telemetry before it is persisted
// and streamed. Safe for concurrent use; its state is the compiled patterns.
type Service struct {
	patterns []*CompiledPattern
}

// NewService compiles the built-in patterns followed by extra.
func NewService(extra ...Pattern) *Service {
	s := &Service{patterns: compilePatterns(append(BuiltinPatterns(), extra...))}
	slog.Info("Masking service initialized", "compiled_patterns", len(s.patterns))
	return s
}

// MaskText applies every pattern to content.
func (s *Service) MaskText(content string) string {
	if s == nil || content == "" {
		return content
	}
	for _, p := range s.patterns {
		content = p.Regex.ReplaceAllString(content, p.Replacement)
	}
	return content
}

// MaskData returns a copy of data with every string value masked.
// Nested maps and slices are walked; other values are kept as-is.
func (s *Service) MaskData(data map[string]any) map[string]any {
	if s == nil || data == nil {
		return data
	}
	out, _ := s.maskValue(data).(map[string]any)
	return out
}

func (s *Service) maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.MaskText(val)
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = s.MaskText(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.maskValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i], _ = s.maskValue(item).(map[string]any)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.maskValue(item)
		}
		return out
	default:
		return v
	}
}
