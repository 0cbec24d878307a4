package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchLimit_Validate(t *testing.T) {
	assert.NoError(t, SearchLimit{Depth: 10}.Validate())
	assert.NoError(t, SearchLimit{Nodes: 1000}.Validate())
	assert.NoError(t, SearchLimit{MoveTimeMS: 500}.Validate())
	assert.NoError(t, SearchLimit{Infinite: true}.Validate())

	assert.Error(t, SearchLimit{}.Validate())
	assert.Error(t, SearchLimit{Depth: 10, MoveTimeMS: 3000}.Validate())
	assert.Error(t, SearchLimit{Depth: -1}.Validate())
}

func TestEnvelope_WorkJSON(t *testing.T) {
	raw := `{"type":"work","session_id":"abc","request":{"fen":"startpos","moves":["e2e4"],"limit":{"depth":10},"options":{"MultiPV":"2"}}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, TypeWork, env.Type)
	assert.Equal(t, "abc", env.SessionID)
	require.NotNil(t, env.Request)
	assert.Equal(t, []string{"e2e4"}, env.Request.Moves)
	assert.Equal(t, 10, env.Request.Limit.Depth)
	assert.Equal(t, "2", env.Request.Options["MultiPV"])
}

func TestAnalysisUpdate_ZeroIsReported(t *testing.T) {
	zero := 0
	b, err := json.Marshal(AnalysisUpdate{Depth: &zero})
	require.NoError(t, err)
	assert.JSONEq(t, `{"depth":0}`, string(b))

	b, err = json.Marshal(AnalysisUpdate{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}
