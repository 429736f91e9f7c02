package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "UPISIM"

// Load merges defaults, the global and project config files, an optional
// explicit file and finally the environment.
func Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: failed to load .env: %v", err)
	}

	for _, path := range []string{GlobalConfigPath(), ProjectConfigPath()} {
		if err := loadFile(path, cfg); err != nil && !os.IsNotExist(err) {
			log.Printf("warning: ignoring %s: %v", path, err)
		}
	}

	if explicitPath != "" {
		if err := loadFile(explicitPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", explicitPath, err)
		}
	}

	if err := loadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	return v.Unmarshal(cfg)
}

// loadEnv binds every known key to its UPISIM_ variable and merges the ones
// that are set.
func loadEnv(cfg *Config) error {
	keys, err := Keys()
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

// Keys lists every configuration key in dotted form.
func Keys() ([]string, error) {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	var keys []string
	flatten("", tree, &keys)
	sort.Strings(keys)
	return keys, nil
}

func flatten(prefix string, tree map[string]interface{}, keys *[]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(key, sub, keys)
			continue
		}
		*keys = append(*keys, key)
	}
}

// Validate checks the values that are parsed later.
func (c *Config) Validate() error {
	amounts := map[string]string{
		"switch.min_amount":           c.Switch.MinAmount,
		"switch.probe_amount":         c.Switch.ProbeAmount,
		"bank.remitter.min_amount":    c.Bank.Remitter.MinAmount,
		"bank.beneficiary.min_amount": c.Bank.Beneficiary.MinAmount,
		"psp.payer.min_amount":        c.PSP.Payer.MinAmount,
	}
	for key, v := range amounts {
		if _, err := ParseAmount(v); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if _, _, err := c.Timeouts.Durations(); err != nil {
		return err
	}
	return nil
}

// ParseAmount parses a configured amount. Empty means zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %s is negative", s)
	}
	return d, nil
}

// Durations parses both hop timeouts.
func (t TimeoutsConfig) Durations() (initial, forward time.Duration, err error) {
	if initial, err = time.ParseDuration(t.Initial); err != nil {
		return 0, 0, fmt.Errorf("invalid timeouts.initial: %w", err)
	}
	if forward, err = time.ParseDuration(t.Forward); err != nil {
		return 0, 0, fmt.Errorf("invalid timeouts.forward: %w", err)
	}
	return initial, forward, nil
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".upisim", "config.yaml")
}

// ProjectConfigPath returns the path to the project config file
func ProjectConfigPath() string {
	cwd, _ := os.Getwd()
	return filepath.Join(cwd, ".upisim", "config.yaml")
}
