package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Definition sources for the workflow registry.
const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourceDatabase = "database"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Enable   bool   `mapstructure:"enable"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
		// Claim names carrying the workflow role and organization.
		RoleClaim         string `mapstructure:"role_claim"`
		OrganizationClaim string `mapstructure:"organization_claim"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Workflow struct {
		DefinitionSource string `mapstructure:"definition_source"`
		DefinitionsDir   string `mapstructure:"definitions_dir"`
		QuorumMode       string `mapstructure:"quorum_mode"`
		QuorumMinimum    int    `mapstructure:"quorum_minimum"`
	} `mapstructure:"workflow"`
}

// IsDev reports whether the process runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DSN returns the pgx connection string for the DB section.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("db.enable", true)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("auth.role_claim", "role")
	v.SetDefault("auth.organization_claim", "org_id")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("workflow.definition_source", SourceEmbedded)
	v.SetDefault("workflow.definitions_dir", "")
	v.SetDefault("workflow.quorum_mode", "manual")
	v.SetDefault("workflow.quorum_minimum", 0)
}

// LoadConfig loads the configuration from a file and the environment. When
// envFile is set it is read instead of searching for config.yaml. A missing
// config.yaml is not an error; defaults and the environment still apply.
func LoadConfig(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", envFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Workflow.DefinitionSource = strings.ToLower(strings.TrimSpace(config.Workflow.DefinitionSource))
	config.Workflow.QuorumMode = strings.ToLower(strings.TrimSpace(config.Workflow.QuorumMode))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Workflow.DefinitionSource {
	case SourceEmbedded:
	case SourceFile:
		if c.Workflow.DefinitionsDir == "" {
			return errors.New("workflow.definitions_dir is required when definition_source is file")
		}
	case SourceDatabase:
		if !c.DB.Enable {
			return errors.New("workflow.definition_source database requires db.enable")
		}
	default:
		return fmt.Errorf("unknown workflow.definition_source %q", c.Workflow.DefinitionSource)
	}

	switch c.Workflow.QuorumMode {
	case "", "manual", "all":
	case "minimum":
		if c.Workflow.QuorumMinimum < 1 {
			return errors.New("workflow.quorum_minimum must be at least 1 when quorum_mode is minimum")
		}
	default:
		return fmt.Errorf("unknown workflow.quorum_mode %q", c.Workflow.QuorumMode)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
