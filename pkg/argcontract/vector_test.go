package argcontract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultLayout() Layout {
	return Layout{MaxLoraNumber: 5, ControlNetImages: 4, EnhanceTabs: 3}
}

func TestBuildProducesExpectedLength(t *testing.T) {
	layout := defaultLayout()
	req := DefaultTaskRequest()
	req.Prompt = "a cat wearing sunglasses"

	vec := Build(req, layout)
	require.Len(t, vec, layout.ExpectedLength())

	ok, reason := Validate(vec, layout)
	require.True(t, ok, reason)
}

func TestBuildFillsLoraDefaultsWhenUnset(t *testing.T) {
	layout := defaultLayout()
	req := DefaultTaskRequest()
	req.Prompt = "x"

	vec := Build(req, layout)

	loraStart := 15
	for i := 0; i < layout.MaxLoraNumber; i++ {
		base := loraStart + i*3
		require.Equal(t, false, vec[base])
		require.Equal(t, "None", vec[base+1])
		require.Equal(t, 1.0, vec[base+2])
	}
}

func TestBuildPreservesSuppliedLoras(t *testing.T) {
	layout := defaultLayout()
	req := DefaultTaskRequest()
	req.Prompt = "x"
	req.Loras = [][3]any{{true, "add_detail.safetensors", 0.8}}

	vec := Build(req, layout)

	require.Equal(t, true, vec[15])
	require.Equal(t, "add_detail.safetensors", vec[16])
	require.Equal(t, 0.8, vec[17])
}

func TestValidateRejectsWrongLength(t *testing.T) {
	layout := defaultLayout()
	vec := ArgumentVector{false, "a", "b"}

	ok, reason := Validate(vec, layout)
	require.False(t, ok)
	require.Contains(t, reason, "length mismatch")
}

func TestValidateRejectsWrongTypeAtHead(t *testing.T) {
	layout := defaultLayout()
	req := DefaultTaskRequest()
	req.Prompt = "x"
	vec := Build(req, layout)
	vec[0] = "not a bool"

	ok, reason := Validate(vec, layout)
	require.False(t, ok)
	require.Contains(t, reason, "vector[0]")
}

func TestNormalizeAspectRatioReplacesAsterisk(t *testing.T) {
	require.Equal(t, "1024×1024", normalizeAspectRatio("1024*1024"))
	require.Equal(t, "1024×1024", normalizeAspectRatio("1024×1024"))
}
