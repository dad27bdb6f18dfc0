package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintNilIsEmptyObject(t *testing.T) {
	fp, err := Fingerprint(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", fp)
}

func TestFingerprintKeyOrderIsIrrelevant(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
	assert.Equal(t, `{"a":1,"b":2}`, fpA)
}

func TestFingerprintDistinguishesDifferentValues(t *testing.T) {
	fp1, err := Fingerprint(map[string]any{"id": 1})
	require.NoError(t, err)
	fp2, err := Fingerprint(map[string]any{"id": 2})
	require.NoError(t, err)

	assert.NotEqual(t, fp1, fp2)
}

func TestFingerprintStructAndEquivalentMapMatch(t *testing.T) {
	type params struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	fpStruct, err := Fingerprint(params{Name: "ada", Age: 30})
	require.NoError(t, err)
	fpMap, err := Fingerprint(map[string]any{"age": 30, "name": "ada"})
	require.NoError(t, err)

	assert.Equal(t, fpStruct, fpMap)
}

func TestFingerprintNestedObjectsAreCanonicalized(t *testing.T) {
	a := map[string]any{"outer": map[string]any{"y": 2, "x": 1}}
	b := map[string]any{"outer": map[string]any{"x": 1, "y": 2}}

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
}
