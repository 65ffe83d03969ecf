package planner

import "github.com/codeready-toolchain/deepreport/pkg/llm"

const (
	toolClarification = "Clarification"
	toolSections      = "Sections"
)

var clarificationTool = llm.ToolDefinition{
	Name:        toolClarification,
	Description: "Ask the user to confirm a restated requirement before planning. May be used once.",
	Parameters: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"requirement": {Type: llm.TypeString, Description: "the restated requirement and the question for the user"},
		},
		Required: []string{"requirement"},
	},
}

var sectionsTool = llm.ToolDefinition{
	Name:        toolSections,
	Description: "Submit the report outline.",
	Parameters: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"topic":      {Type: llm.TypeString, Description: "report title"},
			"parameters": {Type: llm.TypeObject, Description: "global scope such as time range, regions and metrics"},
			"sections": {
				Type: llm.TypeArray,
				Items: &llm.Schema{
					Type: llm.TypeObject,
					Properties: map[string]*llm.Schema{
						"title":                {Type: llm.TypeString},
						"research_description": {Type: llm.TypeString},
						"analysis_method":      {Type: llm.TypeString},
						"key_parameters":       {Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}},
						"research_focus":       {Type: llm.TypeString},
					},
					Required: []string{"title", "research_description", "analysis_method", "key_parameters", "research_focus"},
				},
			},
		},
		Required: []string{"topic", "parameters", "sections"},
	},
}

type clarificationArgs struct {
	Requirement string `json:"requirement"`
}

type sectionsArgs struct {
	Topic      string         `json:"topic"`
	Parameters map[string]any `json:"parameters"`
	Sections   []struct {
		Title               string   `json:"title"`
		ResearchDescription string   `json:"research_description"`
		AnalysisMethod      string   `json:"analysis_method"`
		KeyParameters       []string `json:"key_parameters"`
		ResearchFocus       string   `json:"research_focus"`
	} `json:"sections"`
}
