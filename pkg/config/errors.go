package config

import (
	"errors"
	"fmt"
	"strings"
)

// Load failures.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidYAML    = errors.New("invalid YAML syntax")
)

// Validation and lookup failures.
var (
	ErrAgentProfileNotFound = errors.New("agent profile not found")
	ErrLLMProviderNotFound  = errors.New("LLM provider not found")
	ErrInvalidReference     = errors.New("invalid configuration reference")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid field value")
)

// ValidationError locates a validation failure, e.g.
// "agent_profile research.temperature: invalid field value: must be within [0, 2]".
type ValidationError struct {
	Component string // report, agent_profile or llm_provider
	ID        string
	Field     string
	Err       error
}

func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Component)
	b.WriteByte(' ')
	b.WriteString(e.ID)
	if e.Field != "" {
		b.WriteByte('.')
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LoadError names the file that could not be read or parsed.
type LoadError struct {
	File string
	Err  error
}

func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.File, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }
