package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemWarningsService(t *testing.T) {
	t.Run("add and list", func(t *testing.T) {
		svc := NewSystemWarningsService()
		id := svc.AddWarning(WarningCategoryLLMProvider, "qwen", "OPENAI_API_KEY is not set")

		warnings := svc.GetWarnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, id, warnings[0].ID)
		assert.Equal(t, "qwen", warnings[0].Subject)
		assert.False(t, warnings[0].CreatedAt.IsZero())
	})

	t.Run("same category and subject replaces", func(t *testing.T) {
		svc := NewSystemWarningsService()
		svc.AddWarning(WarningCategoryEventStream, "", "LISTEN connection lost")
		svc.AddWarning(WarningCategoryEventStream, "", "reconnect failed")
		svc.AddWarning(WarningCategoryLLMProvider, "qwen", "missing key")

		warnings := svc.GetWarnings()
		require.Len(t, warnings, 2)
		assert.Equal(t, "reconnect failed", warnings[0].Message)
	})

	t.Run("clear", func(t *testing.T) {
		svc := NewSystemWarningsService()
		svc.AddWarning(WarningCategoryLLMProvider, "qwen", "missing key")

		assert.False(t, svc.Clear(WarningCategoryLLMProvider, "other"))
		assert.True(t, svc.Clear(WarningCategoryLLMProvider, "qwen"))
		assert.Empty(t, svc.GetWarnings())
	})

	t.Run("returned values are copies", func(t *testing.T) {
		svc := NewSystemWarningsService()
		svc.AddWarning(WarningCategoryLLMProvider, "qwen", "missing key")

		warnings := svc.GetWarnings()
		warnings[0].Message = "changed"
		assert.Equal(t, "missing key", svc.GetWarnings()[0].Message)
	})
}
