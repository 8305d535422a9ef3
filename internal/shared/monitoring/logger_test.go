package monitoring

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/adred-codev/blockchat/internal/shared/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitGlobalLogger(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	logger := InitGlobalLogger(LoggerConfig{
		Level:  types.LogLevelWarn,
		Format: types.LogFormatJSON,
		Output: &buf,
	})

	log.Info().Msg("dropped")
	log.Warn().Str("component", "test").Msg("kept")
	logger.Error().Msg("direct")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "blockchat", entry["service"])
}
