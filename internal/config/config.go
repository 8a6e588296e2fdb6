package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"horizon-apply-service/internal/domain"
)

// RoleGrant is one row of the role->permissions table as configured.
type RoleGrant struct {
	RoleID      string   `yaml:"role_id" validate:"required"`
	Permissions []string `yaml:"permissions" validate:"required,min=1"`
}

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret" validate:"required"`
	} `yaml:"auth"`
	Captcha struct {
		VerifyURL string `yaml:"verify_url" validate:"required,url"`
		Secret    string `yaml:"secret" validate:"required"`
	} `yaml:"captcha"`
	Discord struct {
		WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
		BotToken   string `yaml:"bot_token"`
		GuildID    string `yaml:"guild_id"`
		APIBase    string `yaml:"api_base" validate:"omitempty,url"`
	} `yaml:"discord"`
	Permissions struct {
		SuperAdminRoles  []string    `yaml:"super_admin_roles"`
		Grants           []RoleGrant `yaml:"grants" validate:"dive"`
		RevalidateEvery  string      `yaml:"revalidate_every"`
		RevalidateMinGap string      `yaml:"revalidate_min_gap"`
	} `yaml:"permissions"`
}

// Load reads YAML config from path and fails fast on anything malformed:
// unknown permission keys in the grant table, unparseable or non-positive
// revalidation intervals, missing captcha or auth settings.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks structural constraints (validator tags) plus the
// domain-level ones the tags cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, grant := range c.Permissions.Grants {
		for _, p := range grant.Permissions {
			if !domain.KnownPermission(domain.PermissionKey(p)) {
				return fmt.Errorf("invalid config: unknown permission %q granted to role %s", p, grant.RoleID)
			}
		}
	}
	if _, err := positiveDuration(c.Permissions.RevalidateEvery); err != nil {
		return fmt.Errorf("invalid config: revalidate_every: %w", err)
	}
	if _, err := positiveDuration(c.Permissions.RevalidateMinGap); err != nil {
		return fmt.Errorf("invalid config: revalidate_min_gap: %w", err)
	}
	return nil
}

// Grants converts the configured grant table to domain rows.
func (c Config) Grants() []domain.RolePermission {
	grants := make([]domain.RolePermission, 0, len(c.Permissions.Grants))
	for _, g := range c.Permissions.Grants {
		perms := make([]domain.PermissionKey, 0, len(g.Permissions))
		for _, p := range g.Permissions {
			perms = append(perms, domain.PermissionKey(p))
		}
		grants = append(grants, domain.RolePermission{RoleID: g.RoleID, Permissions: perms})
	}
	return grants
}

// RevalidateEvery returns the scheduled revalidation interval.
func (c Config) RevalidateEvery() time.Duration {
	return TTLDuration(c.Permissions.RevalidateEvery, 5*time.Minute)
}

// RevalidateMinGap returns the shared rate-limit window of the two
// revalidation triggers.
func (c Config) RevalidateMinGap() time.Duration {
	return TTLDuration(c.Permissions.RevalidateMinGap, 30*time.Second)
}

func positiveDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
