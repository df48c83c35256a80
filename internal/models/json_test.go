package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONScan(t *testing.T) {
	var j JSON
	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.JSONEq(t, `{"a":1}`, string(j))

	require.NoError(t, j.Scan(`[1,2]`))
	assert.JSONEq(t, `[1,2]`, string(j))

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)

	assert.Error(t, j.Scan(42))
}

func TestJSONValueAndMarshal(t *testing.T) {
	v, err := JSON(`{"type":"doc"}`).Value()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"doc"}`, v)

	v, err = JSON(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	out, err := json.Marshal(DocumentSnapshot{DocumentID: "d", Doc: JSON(`{"type":"doc"}`), Version: 3})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"doc":{"type":"doc"}`)
}

func TestStepBatchEndVersion(t *testing.T) {
	b := StepBatch{StartVersion: 10, ClientIDs: []string{"a", "a", "b"}}
	assert.Equal(t, 13, b.EndVersion())
}
