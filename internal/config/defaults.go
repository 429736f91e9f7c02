package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Seed:    true,
		Switch: SwitchConfig{
			NodeConfig:   NodeConfig{Listen: ":5000", URL: "http://localhost:5000"},
			MinAmount:    "1.00",
			ProbeAmount:  "1.00",
			PurposeCodes: []string{"00", "44"},
		},
		Bank: BanksConfig{
			Remitter: BankConfig{
				NodeConfig:  NodeConfig{Listen: ":5001", URL: "http://localhost:5001"},
				OrgID:       "REMBANK",
				DBPath:      "~/.upisim/rem_bank.db",
				MinAmount:   "1.00",
				BlockedCode: "1111",
			},
			Beneficiary: BankConfig{
				NodeConfig:  NodeConfig{Listen: ":5002", URL: "http://localhost:5002"},
				OrgID:       "BENEBANK",
				DBPath:      "~/.upisim/bene_bank.db",
				MinAmount:   "1.00",
				BlockedCode: "1111",
			},
		},
		PSP: PSPsConfig{
			Payer: PSPConfig{
				NodeConfig:  NodeConfig{Listen: ":5003", URL: "http://localhost:5003"},
				OrgID:       "PAYERPSP",
				DBPath:      "~/.upisim/payer_psp.db",
				MinAmount:   "1.00",
				BlockedCode: "1111",
			},
			Payee: PSPConfig{
				NodeConfig:  NodeConfig{Listen: ":5004", URL: "http://localhost:5004"},
				OrgID:       "PAYEE_PSP",
				DBPath:      "~/.upisim/payee_psp.db",
				BlockedCode: "1111",
			},
		},
		Timeouts: TimeoutsConfig{
			Initial: "30s",
			Forward: "10s",
		},
	}
}

const defaultHeader = `# UPI switch simulator configuration
#
# Every key can be overridden from the environment with the UPISIM_ prefix,
# e.g. UPISIM_SWITCH_MIN_AMOUNT=5 or UPISIM_BANK_REMITTER_DB_PATH=/tmp/rem.db.
# A .env file in the working directory is loaded first.

`

// WriteDefault writes the default configuration to a file
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(defaultHeader), data...), 0644)
}
