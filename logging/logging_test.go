package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")

	log.Debug().Msg("hidden")
	log.Info().Str("entity_id", "loan-1").Msg("transition committed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "transition committed", line["message"])
	assert.Equal(t, "loan-1", line["entity_id"])
	assert.Equal(t, "hr-workflow", line["service"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "Console")

	log.Debug().Msg("scenario loaded")
	assert.Contains(t, buf.String(), "scenario loaded")
	assert.False(t, json.Valid(buf.Bytes()))
}
