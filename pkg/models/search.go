package models

// Compression strategies applied to query results before they reach the model.
const (
	CompressionEmpty             = "empty"
	CompressionComplete          = "complete"
	CompressionTopN              = "top_n"
	CompressionGrouped           = "grouped"
	CompressionSampled           = "sampled"
	CompressionSummaryWithSample = "summary_with_sample"
)

// SearchResult is the outcome of one Search tool call inside a research run.
// FullData never leaves the server: it is excluded from JSON and only used
// for chart rendering.
type SearchResult struct {
	DataID              string             `json:"data_id"`
	Success             bool               `json:"success"`
	Purpose             string             `json:"purpose,omitempty"`
	TableName           string             `json:"table_name,omitempty"`
	SQL                 string             `json:"sql,omitempty"`
	Summary             string             `json:"summary,omitempty"`
	KeyMetrics          map[string]float64 `json:"key_metrics,omitempty"`
	CompressedData      any                `json:"compressed_data,omitempty"`
	CompressionStrategy string             `json:"compression_strategy,omitempty"`
	SampleData          []Row              `json:"sample_data,omitempty"`
	RowCount            int                `json:"row_count"`
	TotalCount          int                `json:"total_count"`
	Columns             []string           `json:"columns,omitempty"`
	Error               string             `json:"error,omitempty"`
	RetrySuggestion     string             `json:"retry_suggestion,omitempty"`

	FullData []Row `json:"-"`
}
