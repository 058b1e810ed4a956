package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposeTitle(t *testing.T) {
	parts := DecomposeTitle("2024 BMW X3 M40i")

	require.NotNil(t, parts.Year)
	assert.Equal(t, 2024, *parts.Year)
	assert.Equal(t, "BMW", parts.Make)
	assert.True(t, parts.MakeMatched)
	assert.Equal(t, "X3", parts.Model)
	assert.True(t, parts.ModelMatched)
	require.NotNil(t, parts.Trim)
	assert.Equal(t, "M40i", *parts.Trim)
}

func TestDecomposeTitleDigitPrefixedModel(t *testing.T) {
	parts := DecomposeTitle("2025 BMW 330i xDrive Sedan")

	assert.Equal(t, "330i", parts.Model)
	require.NotNil(t, parts.Trim)
	assert.Equal(t, "xDrive Sedan", *parts.Trim)
}

func TestDecomposeTitleCaseInsensitiveBrand(t *testing.T) {
	parts := DecomposeTitle("2023 bmw M340i")

	assert.Equal(t, "bmw", parts.Make)
	assert.Equal(t, "M340i", parts.Model)
	assert.Nil(t, parts.Trim)
}

func TestDecomposeTitleDefaults(t *testing.T) {
	parts := DecomposeTitle("Certified Sports Activity Vehicle")

	assert.Nil(t, parts.Year)
	assert.Equal(t, "BMW", parts.Make)
	assert.False(t, parts.MakeMatched)
	assert.Equal(t, "X3", parts.Model)
	assert.False(t, parts.ModelMatched)
	require.NotNil(t, parts.Trim)
	assert.Equal(t, "Certified Sports Activity Vehicle", *parts.Trim)
}

func TestDecomposeTitleYearOutOfRange(t *testing.T) {
	parts := DecomposeTitle("1965 BMW 1800")

	assert.Nil(t, parts.Year)
	assert.True(t, parts.MakeMatched)
}

func TestDecomposeTitleEmpty(t *testing.T) {
	parts := DecomposeTitle("")

	assert.Nil(t, parts.Year)
	assert.Nil(t, parts.Trim)
	assert.Equal(t, "X3", parts.Model)
}
