package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsSensitivity(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, Default, o.Sensitivity)
	assert.Equal(t, 1, o.Threads)
	assert.NotNil(t, o.Matrix)
}

func TestApplySensitivityWidensThresholds(t *testing.T) {
	o := DefaultOptions()
	base := o.Ungapped.MinRawScore

	o.ApplySensitivity(UltraSensitive)
	assert.Less(t, o.Ungapped.MinRawScore, base)

	o.ApplySensitivity(Faster)
	assert.Greater(t, o.Ungapped.MinRawScore, base)
}

func TestLoadProfileOverlaysOnlySetFields(t *testing.T) {
	base := DefaultOptions()
	data := []byte(`{
		// checked-in preset for a quick screening run
		"threads": 8,
		"sensitivity": "more-sensitive",
		"maxTargetSeqs": 10,
		"outFormat": "104",
	}`)

	out, err := LoadProfile(base, data)
	require.NoError(t, err)

	assert.Equal(t, 8, out.Threads)
	assert.Equal(t, MoreSensitive, out.Sensitivity)
	assert.Equal(t, 10, out.Filters.MaxTargetSeqs)
	assert.Equal(t, FormatJSON, out.OutFormat)

	// Untouched fields fall through from base unchanged.
	assert.Equal(t, base.IndexChunks, out.IndexChunks)
	assert.Equal(t, base.Masking, out.Masking)

	// base itself is never mutated.
	assert.Equal(t, 1, base.Threads)
}

func TestLoadProfileRejectsUnknownSensitivity(t *testing.T) {
	base := DefaultOptions()
	_, err := LoadProfile(base, []byte(`{"sensitivity": "blazing"}`))
	require.Error(t, err)
}
