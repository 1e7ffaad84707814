package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/logging"
)

// DefaultAzureAPIVersion is used when an Azure entry has no apiVersion.
const DefaultAzureAPIVersion = "2025-01-01-preview"

// LoadDotEnv loads dir/.env into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Env returns the variables implied by the configuration: each LLM's key
// under its provider's conventional name, plus every envs entry.
func (c *Config) Env() map[string]string {
	env := make(map[string]string, len(c.Envs)+len(c.LLMs))
	for k, v := range c.Envs {
		env[k] = v
	}
	for _, l := range c.LLMs {
		switch l.Provider {
		case hanabi.ProviderOpenAI:
			env["OPENAI_API_KEY"] = l.APIKey
		case hanabi.ProviderAzure:
			env["AZURE_API_KEY"] = l.APIKey
			env["AZURE_API_VERSION"] = l.APIVersion
			if l.APIVersion == "" {
				env["AZURE_API_VERSION"] = DefaultAzureAPIVersion
			}
			if name := azureResourceName(l.APIURL); name != "" {
				env["AZURE_RESOURCE_NAME"] = name
			}
		case hanabi.ProviderGoogle:
			env["GOOGLE_GENERATIVE_AI_API_KEY"] = l.APIKey
		case hanabi.ProviderAnthropic:
			env["ANTHROPIC_API_KEY"] = l.APIKey
		case hanabi.ProviderDeepseek:
			env["DEEPSEEK_API_KEY"] = l.APIKey
		case hanabi.ProviderGroq:
			env["GROQ_API_KEY"] = l.APIKey
		case hanabi.ProviderXAI:
			env["XAI_API_KEY"] = l.APIKey
		}
	}
	return env
}

// PopulateEnv exports Env into the process environment. Variables that are
// already set win.
func (c *Config) PopulateEnv() {
	log := logging.Component("config")
	for k, v := range c.Env() {
		if v == "" {
			continue
		}
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			log.Warn().Err(err).Str("name", k).Msg("failed to set environment variable")
		}
	}
}

// azureResourceName extracts "name" from https://name.openai.azure.com/...
func azureResourceName(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	name, _, _ := strings.Cut(u.Hostname(), ".")
	return name
}
