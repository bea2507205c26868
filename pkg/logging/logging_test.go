package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/topics/pkg/config"
)

func TestConfigureWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger := New("test")
	require.NoError(t, logger.Configure(dir, config.LoggingConfig{Level: "info", FilePath: "logs/topics.log"}))

	logger.Printf("hello %s", "world")
	logger.Debugf("hidden")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "topics.log"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "INFO test "))
	assert.Contains(t, string(data), "hello world")
	assert.NotContains(t, string(data), "hidden")
}

func TestDebugf(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	require.NoError(t, logger.Configure("", config.LoggingConfig{Level: "debug"}))
	logger.SetOutput(&buf)

	logger.Debugf("value=%d", 3)
	assert.True(t, strings.Contains(buf.String(), "debug: value=3"))
}

func TestRollingFileRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.log")
	r, err := newRollingFile(path, 10)
	require.NoError(t, err)

	for _, chunk := range []string{"aaaaaaaa", "bbbbbbbb", "cccccccc", "dddddddd", "eeeeeeee"} {
		_, err = r.Write([]byte(chunk))
		require.NoError(t, err)
	}

	live, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "eeeeeeee", string(live))
	for i, want := range []string{"dddddddd", "cccccccc", "bbbbbbbb"} {
		data, err := os.ReadFile(fmt.Sprintf("%s.%d", path, i+1))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
	_, err = os.Stat(path + ".4")
	assert.True(t, os.IsNotExist(err))
}

func TestRollingFileResumesSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.log")
	require.NoError(t, os.WriteFile(path, []byte("123456789"), 0o600))
	r, err := newRollingFile(path, 10)
	require.NoError(t, err)
	_, err = r.Write([]byte("xy"))
	require.NoError(t, err)

	data, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "123456789", string(data))
}
