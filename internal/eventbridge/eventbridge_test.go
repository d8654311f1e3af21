package eventbridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucerna-optics/flowscan/internal/connector"
)

func TestTranslateStateChanged(t *testing.T) {
	topic, payload := translate(connector.StateChanged{State: connector.StateReady})
	require.Equal(t, "state", topic)
	msg, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"READY"}`, string(msg))
}

func TestTranslateSessionFinished(t *testing.T) {
	topic, payload := translate(connector.SessionFinished{
		OK:       true,
		LeftPath: "/data/left.csv",
	})
	require.Equal(t, "capture/finished", topic)

	msg, err := json.Marshal(payload)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "/data/left.csv", decoded["leftPath"])
}

func TestTranslateDropsLocalOnlyEvents(t *testing.T) {
	topic, _ := translate(connector.RGBStateReceived{State: 1, Text: "IND1"})
	assert.Empty(t, topic, "local-only event should not map to a topic")
}
