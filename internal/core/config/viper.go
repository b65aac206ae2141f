package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("database.url", defaults.Database.URL)
	v.SetDefault("scope.product", "")
	v.SetDefault("scope.sub_product", "")
	v.SetDefault("graph.max_dependency_depth", defaults.Graph.MaxDependencyDepth)
	v.SetDefault("compiler.include_result_types", false)
	v.SetDefault("compiler.primary_entity_types", []string{})
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Checked before environment binding so only file values are inspected.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	// Bind environment variables with SV_ prefix
	v.SetEnvPrefix("SV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		Scope: ScopeConfig{
			ProductShortCode: v.GetString("scope.product"),
			SubProductID:     v.GetString("scope.sub_product"),
		},
		Graph: GraphConfig{MaxDependencyDepth: v.GetInt("graph.max_dependency_depth")},
		Compiler: CompilerConfig{
			IncludeResultTypes: v.GetBool("compiler.include_result_types"),
			PrimaryEntityTypes: v.GetStringSlice("compiler.primary_entity_types"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("database.password") {
		return fmt.Errorf("database passwords not allowed in config files (use SV_DATABASE_URL environment variable)")
	}
	if hasPassword(v.GetString("database.url")) {
		return fmt.Errorf("database.url in config file must not contain a password (use SV_DATABASE_URL environment variable)")
	}
	return nil
}
