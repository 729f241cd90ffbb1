package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			}
		})
	}
}

func TestLoad_DefaultsMatchDocumentedValues(t *testing.T) {
	clearEnv(t, "CHUNK_TARGET_SIZE", "RETRIEVAL_FINAL_TOP_K", "AGENT_MAX_STEPS", "MAIN_LLM_PROVIDER", "ES_ADDRESSES")

	s, err := Load()
	require.NoError(t, err)

	require.Equal(t, 500, s.ChunkTargetSize)
	require.Equal(t, 800, s.ChunkMaxSize)
	require.Equal(t, 50, s.ChunkOverlap)
	require.Equal(t, 5, s.RetrievalFinalTopK)
	require.Equal(t, 8, s.AgentMaxSteps)
	require.Equal(t, "openai", s.MainLLMProvider)
	require.Equal(t, "anthropic", s.LightLLMProvider)
	require.True(t, s.RerankEnabled)
	require.True(t, s.RequireCitations)
	require.Equal(t, []string{"http://localhost:9200"}, s.Elastic.Addresses)
	require.Equal(t, "doc_chunks", s.Qdrant.Collection)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t, "CHUNK_TARGET_SIZE", "MAIN_LLM_PROVIDER", "ES_ADDRESSES", "S3_USE_SSL")
	require.NoError(t, os.Setenv("CHUNK_TARGET_SIZE", "777"))
	require.NoError(t, os.Setenv("MAIN_LLM_PROVIDER", "anthropic"))
	require.NoError(t, os.Setenv("ES_ADDRESSES", "http://es1:9200,http://es2:9200"))
	require.NoError(t, os.Setenv("S3_USE_SSL", "true"))

	s, err := Load()
	require.NoError(t, err)

	require.Equal(t, 777, s.ChunkTargetSize)
	require.Equal(t, "anthropic", s.MainLLMProvider)
	require.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, s.Elastic.Addresses)
	require.True(t, s.S3.UseSSL)
}

func TestLoad_InvalidIntEnvFallsBackToDefault(t *testing.T) {
	clearEnv(t, "RETRIEVAL_TOP_K_VECTOR")
	require.NoError(t, os.Setenv("RETRIEVAL_TOP_K_VECTOR", "not-a-number"))
	t.Cleanup(func() { _ = os.Unsetenv("RETRIEVAL_TOP_K_VECTOR") })

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, 20, s.RetrievalTopKVector)
}

func TestEnvBool_AcceptsCommonTruthyForms(t *testing.T) {
	require.True(t, envBool("UNSET_BOOL_TEST_KEY_TRUE_1", false) == false)

	require.NoError(t, os.Setenv("ENVBOOL_TEST", "yes"))
	t.Cleanup(func() { _ = os.Unsetenv("ENVBOOL_TEST") })
	require.True(t, envBool("ENVBOOL_TEST", false))
}

func TestFirstNonEmpty_ReturnsFirstNonBlankValue(t *testing.T) {
	require.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	require.Equal(t, "", firstNonEmpty("", "  "))
}
