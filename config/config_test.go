package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("RAG_TOP_K", "")

	cfg := Load()

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 20, cfg.RAG.TopK)
	assert.Equal(t, RetrieverChromem, cfg.RAG.Backend)
	assert.Equal(t, "pirls_2021", cfg.RAG.Collection)
	assert.Equal(t, 90*time.Second, cfg.SynthesisTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", ProviderOllama)
	t.Setenv("RAG_TOP_K", "7")
	t.Setenv("TOOL_CACHE_TTL", "5m")
	t.Setenv("DATA_SOURCE_DRIVER", DriverSQLite)

	cfg := Load()

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 7, cfg.RAG.TopK)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, DriverSQLite, cfg.DataSource.Driver)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("RAG_TOP_K", "many")
	t.Setenv("RENDER_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 20, cfg.RAG.TopK)
	assert.Equal(t, 10*time.Second, cfg.RenderTimeout)
}
