package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Canonical(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	data, err := Snapshot("sample", result)
	require.NoError(t, err)

	want := `{"scenario":"sample","trace":[` +
		`{"outcome":"committed","refs":["heart","name"],"step":0,"time":100,"type":"commit"},` +
		`{"error":"VALIDATION_REJECTED","outcome":"rejected","step":1,"type":"commit"},` +
		`{"outcome":"single","ref":"name","step":2,"type":"resolve","versions":[` +
		`{"author":1,"fields":{"concept":"ref:heart","text":"Heart"},"module":1,"path":1,"status":"active","time":100}]},` +
		`{"outcome":"absent","ref":"heart","step":3,"type":"resolve"}]}`
	assert.Equal(t, want, string(data))
}

func TestSnapshot_EmptyTrace(t *testing.T) {
	data, err := Snapshot("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, `{"scenario":"empty","trace":[]}`, string(data))
}
