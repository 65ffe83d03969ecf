package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

func TestKnowledge(t *testing.T) {
	reg := sandbox.NewRegistry([]*models.Dataset{salesDataset(), {Name: "orders", RowCount: 0}})
	k := Knowledge(reg)

	assert.Contains(t, k, "## Table: orders")
	assert.Contains(t, k, "## Table: sales")
	assert.Less(t, strings.Index(k, "## Table: orders"), strings.Index(k, "## Table: sales"))
	assert.Contains(t, k, "**Dimensions:**\n- `region` (text) | samples: North, South")
	assert.Contains(t, k, "**Metrics:**\n- `amount` (number): order value | samples: 10, 20")
}

func TestSchema(t *testing.T) {
	assert.Equal(t,
		"Table: sales (2 rows)\nColumns:\n- region (text) e.g. North, South\n- amount (number) e.g. 10, 20",
		Schema(salesDataset()))
}

func TestSampleValues(t *testing.T) {
	rows := []models.Row{{"c": "a"}, {"c": nil}, {"c": "a"}, {}, {"c": "一二三四五六七八九十一二三四五六七八九十超长"}}
	assert.Equal(t, []string{"a", "一二三四五六七八九十一二三四五六七八九十..."}, SampleValues(rows, "c", 5))
	assert.Equal(t, []string{"a"}, SampleValues(rows, "c", 1))
}
