package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceToSet(t *testing.T) {
	set := SliceToSet([]string{"discarded", "takenover", "discarded"})

	assert.Len(t, set, 2)
	assert.Contains(t, set, "discarded")
	assert.Contains(t, set, "takenover")
}

func TestSliceToSet_Empty(t *testing.T) {
	set := SliceToSet[string](nil)

	assert.NotNil(t, set)
	assert.Empty(t, set)
}
