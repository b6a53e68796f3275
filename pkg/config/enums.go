package config

// LLM provider names accepted by LLM_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderClaude = "claude"
)

// Backend names registered from the MCP_<NAME>_URL convention. The
// capability lists mirror what each stock tool server advertises; they are
// refreshed from the live server on the first successful health check.
var builtinBackends = []struct {
	name         string
	envVar       string
	capabilities []string
}{
	{"filesystem", "MCP_FILESYSTEM_URL", []string{"read_file", "write_file", "list_directory"}},
	{"websearch", "MCP_WEBSEARCH_URL", []string{"search", "fetch_page"}},
	{"github", "MCP_GITHUB_URL", []string{"search_repos", "get_file", "list_issues"}},
	{"python", "MCP_PYTHON_URL", []string{"execute", "install_package"}},
	{"database", "MCP_DATABASE_URL", []string{"query", "schema"}},
	{"memory", "MCP_MEMORY_URL", []string{"store", "recall", "list_keys"}},
}
