package secrets

import "os"

// Environment variables read by EnvLoader in the server binary.
const (
	EnvWebhookSecret = "DOCSYNC_WEBHOOK_GITHUB_SECRET"
	EnvMCPAPIKey     = "DOCSYNC_MCP_API_KEY"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are omitted from the result map; fallback supplies
// values for keys the environment does not set.
func EnvLoader(fallback map[string]string, keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			} else if v := fallback[k]; v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
