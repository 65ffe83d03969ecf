package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codeready-toolchain/deepreport/pkg/llm"
)

// ShapeError reports tool arguments that could not be decoded into the
// declared shape. Its message is fed back to the model as the tool result.
type ShapeError struct {
	Tool   string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Reason)
}

var (
	schemaMu    sync.Mutex
	schemaCache = make(map[*llm.Schema]*jsonschema.Schema)
)

// DecodeToolArgs decodes call arguments into out. Decoding is strict first;
// when that fails the arguments are repaired and values are coerced toward
// the declared schema: JSON-encoded strings standing in for arrays or
// objects are parsed and a lone value where an array is declared is
// wrapped. The coerced value must then validate against the schema.
// Any failure is a *ShapeError.
func DecodeToolArgs(call llm.ToolCall, def llm.ToolDefinition, out any) error {
	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}

	var raw any
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		if err := json.Unmarshal([]byte(RepairJSON(args)), &raw); err != nil {
			return &ShapeError{Tool: call.Name, Reason: "arguments are not valid JSON: " + err.Error()}
		}
	}
	if def.Parameters != nil {
		raw = coerce(raw, def.Parameters)
		if err := validate(def.Parameters, raw); err != nil {
			return &ShapeError{Tool: call.Name, Reason: err.Error()}
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return &ShapeError{Tool: call.Name, Reason: err.Error()}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ShapeError{Tool: call.Name, Reason: err.Error()}
	}
	return nil
}

func coerce(v any, s *llm.Schema) any {
	if s == nil {
		return v
	}
	if str, ok := v.(string); ok && (s.Type == llm.TypeArray || s.Type == llm.TypeObject) {
		var parsed any
		if err := json.Unmarshal([]byte(RepairJSONValue(str)), &parsed); err == nil {
			v = parsed
		}
	}
	switch s.Type {
	case llm.TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		for k, prop := range s.Properties {
			if pv, exists := m[k]; exists {
				m[k] = coerce(pv, prop)
			}
		}
		return m
	case llm.TypeArray:
		arr, ok := v.([]any)
		if !ok {
			if v == nil {
				return v
			}
			arr = []any{v}
		}
		for i := range arr {
			arr[i] = coerce(arr[i], s.Items)
		}
		return arr
	}
	return v
}

// RepairJSONValue is RepairJSON for values that may be arrays.
func RepairJSONValue(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "[") {
		return stripControl(trailingCommaRe.ReplaceAllString(t, "$1"))
	}
	return RepairJSON(t)
}

func validate(s *llm.Schema, v any) error {
	compiled, err := compile(s)
	if err != nil {
		return err
	}
	if err := compiled.Validate(v); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("%s", flatten(ve))
		}
		return err
	}
	return nil
}

func compile(s *llm.Schema) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if c, ok := schemaCache[s]; ok {
		return c, nil
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("invalid tool schema: %w", err)
	}
	c, err := compiler.Compile("tool.json")
	if err != nil {
		return nil, fmt.Errorf("invalid tool schema: %w", err)
	}
	schemaCache[s] = c
	return c, nil
}

// flatten joins the leaf causes of a validation error into one line.
func flatten(ve *jsonschema.ValidationError) string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return loc + ": " + ve.Message
	}
	parts := make([]string, 0, len(ve.Causes))
	for _, c := range ve.Causes {
		parts = append(parts, flatten(c))
	}
	return strings.Join(parts, "; ")
}
