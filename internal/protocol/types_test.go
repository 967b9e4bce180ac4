package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampConfidenceClampsToUnitRange(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.5))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
}

func TestNewFingerprintIsStableAndOrderIndependent(t *testing.T) {
	pos := &Position{Line: 3, Character: 7}
	a := NewFingerprint(FingerprintInput{
		Operation:  "definition",
		Identifier: "Widget",
		URI:        "file:///a.go",
		Position:   pos,
		Options:    map[string]string{"includeDeclaration": "true", "scope": "workspace"},
	})
	b := NewFingerprint(FingerprintInput{
		Operation:  "definition",
		Identifier: "Widget",
		URI:        "file:///a.go",
		Position:   pos,
		Options:    map[string]string{"scope": "workspace", "includeDeclaration": "true"},
	})
	require.Equal(t, a, b, "option map iteration order must not affect the fingerprint")
	assert.NotEmpty(t, a)
}

func TestNewFingerprintDiffersOnIdentifier(t *testing.T) {
	base := FingerprintInput{Operation: "definition", Identifier: "Widget", URI: "file:///a.go"}
	other := base
	other.Identifier = "Gadget"

	fpBase := NewFingerprint(base)
	fpOther := NewFingerprint(other)
	assert.NotEqual(t, fpBase, fpOther)
}

func TestOpaqueRoundTripsThroughJSON(t *testing.T) {
	type payload struct {
		Embedding []float64 `json:"embedding"`
		Note      string    `json:"note"`
	}
	want := payload{Embedding: []float64{0.1, 0.2, 0.3}, Note: "evidence"}

	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var o Opaque
	require.NoError(t, o.UnmarshalJSON(raw))

	var got payload
	require.NoError(t, o.Decode(&got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestOpaqueMarshalsEmptyAsNull(t *testing.T) {
	var o Opaque
	data, err := o.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
