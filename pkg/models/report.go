package models

import "time"

// Row is one record of a dataset or query result, keyed by column name.
type Row = map[string]any

// ReportStatus is the lifecycle state of a report.
type ReportStatus string

// Report lifecycle states. completed and error are terminal.
const (
	ReportStatusDraft      ReportStatus = "draft"
	ReportStatusGenerating ReportStatus = "generating"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusError      ReportStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusCompleted || s == ReportStatusError
}

// Synthetic section ids added around the researched sections.
const (
	IntroductionSectionID = "introduction"
	SummarySectionID      = "summary"
)

// Report is the assembled document produced by one generation run.
type Report struct {
	ReportID    string       `json:"report_id"`
	SessionID   string       `json:"session_id,omitempty"`
	Title       string       `json:"title"`
	Summary     string       `json:"summary"`
	UserRequest string       `json:"user_request,omitempty"`
	Sections    []Section    `json:"sections"`
	Status      ReportStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Section is one chapter of the report.
type Section struct {
	SectionID        string          `json:"section_id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Discoveries      []Discovery     `json:"discoveries"`
	Conclusion       string          `json:"conclusion"`
	DataReferences   []DataReference `json:"data_references,omitempty"`
	ValidationIssues []string        `json:"validation_issues,omitempty"`
	// Error is set on degraded sections only.
	Error string `json:"error,omitempty"`
}

// Degraded reports whether the section was synthesized after the research loop gave up.
func (s *Section) Degraded() bool {
	return s.Error != ""
}

// DataReference points from a section back to the search result it used.
type DataReference struct {
	DataID      string `json:"data_id"`
	Description string `json:"description,omitempty"`
	Usage       string `json:"usage,omitempty"`
}

// Discovery is one finding of a section. Insight may embed {{CHART:id}}
// placeholders that resolve against Charts.
type Discovery struct {
	DiscoveryID        string  `json:"discovery_id"`
	Title              string  `json:"title"`
	Insight            string  `json:"insight"`
	DataInterpretation string  `json:"data_interpretation,omitempty"`
	Charts             []Chart `json:"charts"`
	// DuplicateCharts keeps charts collapsed by fingerprint. They are not rendered.
	DuplicateCharts []Chart `json:"duplicate_charts,omitempty"`
}

// ChartType enumerates the renderable chart kinds.
type ChartType string

// Supported chart types.
const (
	ChartTypeBar           ChartType = "bar"
	ChartTypeLine          ChartType = "line"
	ChartTypePie           ChartType = "pie"
	ChartTypeDualAxisMixed ChartType = "dual_axis_mixed"
	ChartTypeStackedArea   ChartType = "stacked_area"
)

// IsValid checks the chart type against the supported set.
func (t ChartType) IsValid() bool {
	switch t {
	case ChartTypeBar, ChartTypeLine, ChartTypePie, ChartTypeDualAxisMixed, ChartTypeStackedArea:
		return true
	}
	return false
}

// Chart is a rendered chart configuration with the rows it draws.
type Chart struct {
	ChartID      string            `json:"chart_id"`
	ChartType    ChartType         `json:"chart_type,omitempty"`
	Title        string            `json:"title,omitempty"`
	Purpose      string            `json:"purpose,omitempty"`
	DataSources  []ChartDataSource `json:"data_sources,omitempty"`
	RenderedData []Row             `json:"rendered_data,omitempty"`
	Fallback     bool              `json:"fallback,omitempty"`
	Error        string            `json:"error,omitempty"`
	DuplicateOf  string            `json:"duplicate_of,omitempty"`
}

// ChartDataSource binds result columns to chart axes.
type ChartDataSource struct {
	DataLabel  string         `json:"data_label"`
	XAxis      string         `json:"x_axis"`
	YAxis      []string       `json:"y_axis"`
	Axis       string         `json:"axis,omitempty"`
	RenderType string         `json:"render_type,omitempty"`
	Filter     map[string]any `json:"filter,omitempty"`
}
