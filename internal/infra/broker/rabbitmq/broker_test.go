package rabbitmq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/transit-analyst/internal/domain/regional"
)

func TestNewJobMessage(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &regional.RegionalAnalysis{
		ID:        "abc",
		ProjectID: "p1",
		Request: regional.AnalysisRequest{
			TravelTimePercentile: 50,
			ScenarioID:           "abc",
			Params:               json.RawMessage(`{"mode":"TRANSIT"}`),
		},
		CreatedAt: created,
		Zoom:      9,
		West:      10,
		North:     20,
		Width:     3,
		Height:    4,
	}

	body, err := json.Marshal(NewJobMessage(a))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"jobId": "abc",
		"projectId": "p1",
		"scenarioId": "abc",
		"zoom": 9, "west": 10, "north": 20, "width": 3, "height": 4,
		"travelTimePercentile": 50,
		"params": {"mode": "TRANSIT"},
		"createdAt": "2024-01-02T03:04:05Z"
	}`, string(body))
}

func TestDecodeCompletion(t *testing.T) {
	id, err := DecodeCompletion([]byte(`{"jobId":" abc "}`))
	require.NoError(t, err)
	assert.Equal(t, regional.AnalysisID("abc"), id)

	for _, body := range []string{`{}`, `{"jobId":""}`, `not json`} {
		_, err := DecodeCompletion([]byte(body))
		assert.ErrorIs(t, err, errMalformed, body)
	}
}
