package researcher

import (
	"sort"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

const (
	completeRowLimit = 20
	topRows          = 10
	bottomRows       = 5
	maxGroups        = 15
	trendSampleRows  = 15
	defaultSample    = 10
	sampleRowsShown  = 5
	minCategories    = 2
	maxCategories    = 50
	numericLeadRows  = 10
	otherCategory    = "其他"
)

var (
	rankingWords     = []string{"top", "排名", "最高", "最低", "前", "排行"}
	groupingWords    = []string{"分类", "分布", "类型", "占比", "按", "各"}
	trendSampleWords = []string{"趋势", "变化", "年", "月", "时间", "历史"}
)

// compressed is the view of a result set shown to the model.
type compressed struct {
	Strategy string
	Data     any
	Sample   []models.Row
}

// compress shrinks rows for the model, keeping the shape the intent asks
// about: extremes for rankings, group structure for distributions, spread
// over time for trends.
func compress(rows []models.Row, columns []string, intent string) compressed {
	n := len(rows)
	if n == 0 {
		return compressed{Strategy: models.CompressionEmpty, Data: []models.Row{}, Sample: []models.Row{}}
	}
	if n <= completeRowLimit {
		return compressed{Strategy: models.CompressionComplete, Data: rows, Sample: firstRows(rows, sampleRowsShown)}
	}

	lower := strings.ToLower(intent)
	if containsAny(lower, rankingWords) {
		if field := primaryNumericField(rows, columns); field != "" {
			sorted := append([]models.Row(nil), rows...)
			sort.SliceStable(sorted, func(i, j int) bool {
				return numeric(sorted[i][field]) > numeric(sorted[j][field])
			})
			top := firstRows(sorted, topRows)
			bottom := []models.Row{}
			if n > topRows+bottomRows {
				bottom = sorted[n-bottomRows:]
			}
			return compressed{
				Strategy: models.CompressionTopN,
				Data:     map[string]any{"top_10": top, "bottom_5": bottom, "total_count": n},
				Sample:   firstRows(top, sampleRowsShown),
			}
		}
	}
	if containsAny(lower, groupingWords) {
		if field := categoryField(rows, columns); field != "" {
			return compressed{
				Strategy: models.CompressionGrouped,
				Data:     groupBy(rows, field, columns),
				Sample:   firstRows(rows, sampleRowsShown),
			}
		}
	}
	if containsAny(lower, trendSampleWords) {
		sampled := evenlySpaced(rows, trendSampleRows)
		return compressed{Strategy: models.CompressionSampled, Data: sampled, Sample: firstRows(sampled, sampleRowsShown)}
	}

	sampled := evenlySpaced(rows, defaultSample)
	return compressed{
		Strategy: models.CompressionSummaryWithSample,
		Data: map[string]any{
			"sample":      sampled,
			"total_count": n,
			"first_row":   rows[0],
			"last_row":    rows[n-1],
		},
		Sample: firstRows(sampled, sampleRowsShown),
	}
}

// primaryNumericField is the first column whose leading values are all numeric.
func primaryNumericField(rows []models.Row, columns []string) string {
	lead := firstRows(rows, numericLeadRows)
	for _, col := range columns {
		seen := 0
		ok := true
		for _, r := range lead {
			v := r[col]
			if v == nil {
				continue
			}
			if _, isNum := sandbox.ToFloat(v); !isNum {
				ok = false
				break
			}
			seen++
		}
		if ok && seen > 0 {
			return col
		}
	}
	return ""
}

// categoryField is the first text column with 2 to 50 distinct values.
func categoryField(rows []models.Row, columns []string) string {
	for _, col := range columns {
		distinct := make(map[string]struct{})
		text := true
		for _, r := range rows {
			v, present := r[col]
			if !present || v == nil {
				continue
			}
			s, isString := v.(string)
			if !isString {
				text = false
				break
			}
			distinct[s] = struct{}{}
		}
		if text && len(distinct) >= minCategories && len(distinct) <= maxCategories {
			return col
		}
	}
	return ""
}

type group struct {
	key  string
	rows []models.Row
}

func groupBy(rows []models.Row, field string, columns []string) map[string]any {
	index := make(map[string]int)
	var groups []*group
	for _, r := range rows {
		key := otherCategory
		if s, ok := r[field].(string); ok {
			key = s
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, &group{key: key})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	sort.SliceStable(groups, func(i, j int) bool { return len(groups[i].rows) > len(groups[j].rows) })

	out := make([]map[string]any, 0, maxGroups)
	for _, g := range firstRows(groups, maxGroups) {
		agg := map[string]any{"category": g.key, "count": len(g.rows)}
		for _, col := range columns {
			if col == field {
				continue
			}
			var sum float64
			var count int
			for _, r := range g.rows {
				if f, ok := sandbox.ToFloat(r[col]); ok {
					sum += f
					count++
				}
			}
			if count > 0 {
				agg[col+"_avg"] = sum / float64(count)
				agg[col+"_sum"] = sum
			}
		}
		out = append(out, agg)
	}
	return map[string]any{"grouped_by": field, "groups": out, "total_groups": len(groups)}
}

// evenlySpaced picks up to k rows at a fixed stride, starting with the first.
func evenlySpaced(rows []models.Row, k int) []models.Row {
	if len(rows) < k {
		k = len(rows)
	}
	if k == 0 {
		return []models.Row{}
	}
	step := len(rows) / k
	if step < 1 {
		step = 1
	}
	out := make([]models.Row, 0, k)
	for i := 0; i < len(rows) && len(out) < k; i += step {
		out = append(out, rows[i])
	}
	return out
}

func numeric(v any) float64 {
	f, _ := sandbox.ToFloat(v)
	return f
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func firstRows[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
