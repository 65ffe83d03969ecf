package section

import (
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// ToolName is the researcher tool that submits a finished section.
const ToolName = "Section"

// Tool declares the Section tool. Chart requirements carry intents only;
// axis bindings are resolved by the chart agent.
var Tool = llm.ToolDefinition{
	Name:        ToolName,
	Description: "Submit the finished section. Charts are described by purpose and data_ids only; their configuration is produced separately.",
	Parameters: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"name":        {Type: llm.TypeString, Description: "the section title from the outline"},
			"description": {Type: llm.TypeString, Description: "analysis goal and path of the section"},
			"discoveries": {
				Type:        llm.TypeArray,
				Description: "findings, each with an insight and chart requirements",
				Items: &llm.Schema{
					Type: llm.TypeObject,
					Properties: map[string]*llm.Schema{
						"discovery_id": {Type: llm.TypeString},
						"title":        {Type: llm.TypeString, Description: "a finding with key numbers, prefixed by a type tag"},
						"insight":      {Type: llm.TypeString, Description: "narrative with a markdown table and {{CHART:chart_id}} placeholders"},
						"chart_requirements": {
							Type: llm.TypeArray,
							Items: &llm.Schema{
								Type: llm.TypeObject,
								Properties: map[string]*llm.Schema{
									"chart_id":        {Type: llm.TypeString},
									"purpose":         {Type: llm.TypeString, Description: "what the chart should prove"},
									"insight_summary": {Type: llm.TypeString, Description: "the conclusion the chart supports, with numbers"},
									"data_ids":        {Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}},
								},
								Required: []string{"chart_id", "purpose", "data_ids"},
							},
						},
						"data_interpretation": {Type: llm.TypeString, Description: "two or three sentences on trends, extremes and turning points"},
					},
					Required: []string{"title", "insight"},
				},
			},
			"conclusion": {Type: llm.TypeString, Description: "conclusion and recommendations"},
			"data_references": {
				Type: llm.TypeArray,
				Items: &llm.Schema{
					Type: llm.TypeObject,
					Properties: map[string]*llm.Schema{
						"data_id":     {Type: llm.TypeString},
						"description": {Type: llm.TypeString},
						"usage":       {Type: llm.TypeString},
					},
					Required: []string{"data_id"},
				},
			},
		},
		Required: []string{"name", "discoveries", "conclusion"},
	},
}

// Args are the decoded Section tool arguments.
type Args struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	Discoveries    []DiscoveryArgs        `json:"discoveries"`
	Conclusion     string                 `json:"conclusion"`
	DataReferences []models.DataReference `json:"data_references"`
}

// DiscoveryArgs is one finding as written by the researcher.
type DiscoveryArgs struct {
	DiscoveryID        string             `json:"discovery_id"`
	Title              string             `json:"title"`
	Insight            string             `json:"insight"`
	ChartRequirements  []ChartRequirement `json:"chart_requirements"`
	DataInterpretation string             `json:"data_interpretation"`
}

// ChartRequirement is a chart intent: what to show and which results to draw from.
type ChartRequirement struct {
	ChartID        string   `json:"chart_id"`
	Purpose        string   `json:"purpose"`
	InsightSummary string   `json:"insight_summary"`
	DataIDs        []string `json:"data_ids"`
}
