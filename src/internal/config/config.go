// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envFile = ".env"

// Config holds everything the service needs to run.
type Config struct {
	Port string `mapstructure:"port"`

	GitLab    GitLabConfig    `mapstructure:"gitlab"`
	Bitbucket BitbucketConfig `mapstructure:"bitbucket"`

	// Display identity used downstream to compute "my PRs" / "my reviews".
	MyUsername string `mapstructure:"my_username"`
	MyEmail    string `mapstructure:"my_email"`

	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	ClosedCacheTTL time.Duration `mapstructure:"closed_cache_ttl"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
}

// GitLabConfig carries GitLab API access parameters.
type GitLabConfig struct {
	Token    string `mapstructure:"token"`
	BaseURL  string `mapstructure:"url"`
	GroupIDs string `mapstructure:"group_ids"` // comma-separated
}

// Groups returns the configured group IDs with empty entries removed.
func (g GitLabConfig) Groups() []string {
	return splitList(g.GroupIDs)
}

// Enabled reports whether the adapter has enough configuration to fetch.
func (g GitLabConfig) Enabled() bool {
	return g.Token != "" && len(g.Groups()) > 0
}

// BitbucketConfig carries Bitbucket Cloud API access parameters.
type BitbucketConfig struct {
	Username    string `mapstructure:"username"`
	AppPassword string `mapstructure:"app_password"`
	Workspaces  string `mapstructure:"workspaces"` // comma-separated
}

// WorkspaceList returns the configured workspaces with empty entries removed.
func (b BitbucketConfig) WorkspaceList() []string {
	return splitList(b.Workspaces)
}

// Enabled reports whether the adapter has enough configuration to fetch.
func (b BitbucketConfig) Enabled() bool {
	return b.Username != "" && b.AppPassword != "" && len(b.WorkspaceList()) > 0
}

// NewConfig loads configuration from environment using viper with typed
// defaults. A local .env file fills in anything the real environment leaves
// unset.
func NewConfig() (*Config, error) {
	if envMap, err := godotenv.Read(envFile); err == nil {
		for k, v := range envMap {
			if _, exists := os.LookupEnv(k); !exists {
				_ = os.Setenv(k, v)
			}
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvs(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects nonsensical values. Missing provider credentials are fine:
// an unconfigured adapter simply has nothing to fetch.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.ClosedCacheTTL <= 0 {
		return fmt.Errorf("closed_cache_ttl must be positive, got %s", c.ClosedCacheTTL)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("gitlab.url", "https://gitlab.com")
	v.SetDefault("cache_ttl", 60*time.Second)
	v.SetDefault("closed_cache_ttl", 5*time.Minute)
	v.SetDefault("http_timeout", 30*time.Second)
}

func bindEnvs(v *viper.Viper) {
	keys := []string{
		"port",
		"gitlab.token",
		"gitlab.url",
		"gitlab.group_ids",
		"bitbucket.username",
		"bitbucket.app_password",
		"bitbucket.workspaces",
		"my_username",
		"my_email",
		"cache_ttl",
		"closed_cache_ttl",
		"http_timeout",
	}

	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
