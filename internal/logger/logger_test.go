package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupProdWritesJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := setup(EnvProd, &buf)

	log.Debug("hidden")
	log.Info("visible", "itemId", "1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "1", entry["itemId"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestSetupLocalWritesTextAtDebug(t *testing.T) {
	var buf bytes.Buffer
	log := setup(EnvLocal, &buf)

	log.Debug("details", "run", 2)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "run=2")
}
