package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("ENV", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, BackendLocal, cfg.StorageBackend)
	assert.Equal(t, int64(50_000_000), cfg.MaxUploadSize)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Contains(t, cfg.AllowedMimeTypes, "audio/mpeg")
	assert.Equal(t, []string{"for-sale", "streams", "instrumentals", "unknown"}, cfg.Sections)
	assert.False(t, cfg.StrictSections)
	assert.False(t, cfg.HasDatabase())
}

func TestLoadStrictSections(t *testing.T) {
	t.Setenv("STRICT_SECTIONS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.StrictSections)
}

func TestLoadParsesHumanizedSize(t *testing.T) {
	t.Setenv("MAX_UPLOAD_SIZE", "15MiB")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(15*1024*1024), cfg.MaxUploadSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MAX_UPLOAD_SIZE":           "lots",
		"METADATA_RETRY_ATTEMPTS":   "0",
		"METADATA_RETRY_BASE_DELAY": "soon",
		"STORAGE_BACKEND":           "cloudinary",
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateS3RequiresCredentials(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", BackendS3)
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("S3_ACCESS_KEY", "")
	t.Setenv("S3_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_ACCESS_KEY")
}

func TestValidateProdRequiresDatabaseAndToken(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/mirrorsplit")
	t.Setenv("ADMIN_TOKEN", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_TOKEN")
}
