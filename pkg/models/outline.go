package models

import "github.com/codeready-toolchain/deepreport/pkg/llm"

// DefaultReportTopic is used when the planner leaves the topic empty.
const DefaultReportTopic = "数据分析报告"

// SectionSpec is the planner's description of one section to research.
// It is immutable once emitted and consumed by exactly one researcher.
type SectionSpec struct {
	SectionID           string   `json:"section_id"`
	Title               string   `json:"title"`
	Name                string   `json:"name"`
	ResearchDescription string   `json:"research_description"`
	AnalysisMethod      string   `json:"analysis_method"`
	KeyParameters       []string `json:"key_parameters"`
	ResearchFocus       string   `json:"research_focus"`
}

// Outline is the planner output: topic, global parameters and the sections.
type Outline struct {
	Topic      string         `json:"topic"`
	Parameters map[string]any `json:"parameters"`
	Sections   []SectionSpec  `json:"sections"`
}

// ClarificationContext carries planner state across the clarification round trip.
// The caller stores it when a clarification is emitted and sends it back with
// the user's answer.
type ClarificationContext struct {
	Messages    []llm.Message `json:"messages"`
	ToolCallID  string        `json:"tool_call_id"`
	Requirement string        `json:"requirement,omitempty"`
	Answer      string        `json:"answer"`
}
