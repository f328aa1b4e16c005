package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		UpstreamBaseURL: "https://api.example.com",
		WorkerCount:     4,
		ImageFormat:     "webp",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.UpstreamBaseURL = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.WorkerCount = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.ImageFormat = "gif"
	assert.Error(t, c.Validate())

	for _, format := range []string{"jpeg", "png", "webp"} {
		c = validConfig()
		c.ImageFormat = format
		assert.NoError(t, c.Validate())
	}
}

func TestImageReplacements(t *testing.T) {
	c := &Config{ImageReplace: "cdn.old.com=>https://cdn.new.com, broken-host=>https://mirror.example.com/img"}
	pairs := c.ImageReplacements()
	require.Len(t, pairs, 2)
	assert.Equal(t, [2]string{"cdn.old.com", "https://cdn.new.com"}, pairs[0])
	assert.Equal(t, [2]string{"broken-host", "https://mirror.example.com/img"}, pairs[1])
}

func TestImageReplacementsSkipsMalformed(t *testing.T) {
	c := &Config{ImageReplace: "no-arrow-here,=>missing-pattern,good=>https://x"}
	pairs := c.ImageReplacements()
	require.Len(t, pairs, 1)
	assert.Equal(t, "good", pairs[0][0])
}

func TestImageReplacementsEmpty(t *testing.T) {
	c := &Config{}
	assert.Empty(t, c.ImageReplacements())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("NEWSINGEST_TEST_STR", "hello")
	t.Setenv("NEWSINGEST_TEST_INT", "42")
	t.Setenv("NEWSINGEST_TEST_BOOL", "true")
	t.Setenv("NEWSINGEST_TEST_DUR", "90s")
	t.Setenv("NEWSINGEST_TEST_BAD_INT", "not-a-number")

	assert.Equal(t, "hello", getEnv("NEWSINGEST_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", getEnv("NEWSINGEST_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, getEnvAsInt("NEWSINGEST_TEST_INT", 7))
	assert.Equal(t, 7, getEnvAsInt("NEWSINGEST_TEST_BAD_INT", 7))
	assert.True(t, getEnvAsBool("NEWSINGEST_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvAsDuration("NEWSINGEST_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("NEWSINGEST_TEST_MISSING", time.Second))
}
