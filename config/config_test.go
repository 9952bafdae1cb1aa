package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Feed.ListLimit)
	assert.Equal(t, 1000, cfg.Fanout.BatchSize)
	assert.Equal(t, time.Hour, cfg.Fanout.TaskTimeLimit)
	assert.Equal(t, "single", cfg.FeedStore.Backend)
	assert.False(t, cfg.Relation.AsyncFans)
	assert.Equal(t, 4, cfg.Relation.Workers)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FEED_FANOUT_BATCH_SIZE", "250")
	t.Setenv("FEED_FEED_LIST_LIMIT", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Fanout.BatchSize)
	assert.Equal(t, 20, cfg.Feed.ListLimit)
}

func TestValidateShardedNeedsDSNs(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	cfg.FeedStore.Backend = "sharded"
	assert.Error(t, cfg.Validate())

	cfg.Shards.DSNs = []string{"a", "b"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsZeroBatch(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Fanout.BatchSize = 0
	assert.Error(t, cfg.Validate())
}
