package logger_test

import (
	"bytes"
	"testing"

	"tripsync/internal/logger"

	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	data, err := logger.New().FromWriter(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, data)

	require.Equal(t, 0, buff.Len())
	data.Logger.Info().Str("day", "day1").Msg("saved")
	require.Contains(t, buff.String(), "saved")
	require.Contains(t, buff.String(), `"day":"day1"`)
}

func TestLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	data, err := logger.New().FromWriter(buff).Level("warn").Make()
	require.NoError(t, err)

	data.Logger.Info().Msg("quiet")
	require.Equal(t, 0, buff.Len())

	data.Logger.Warn().Msg("loud")
	require.Contains(t, buff.String(), "loud")
}

func TestFromPath(t *testing.T) {
	path := t.TempDir() + "/tripsync.log"
	data, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)
	require.NotNil(t, data.LogFile)
	data.Logger.Info().Msg("to file")
	require.NoError(t, data.Close())
}
