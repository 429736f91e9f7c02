package config

// Config represents the full simulator configuration
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`

	// Load the sample accounts, users and profiles on start
	Seed bool `yaml:"seed" mapstructure:"seed"`

	Switch   SwitchConfig   `yaml:"switch" mapstructure:"switch"`
	Bank     BanksConfig    `yaml:"bank" mapstructure:"bank"`
	PSP      PSPsConfig     `yaml:"psp" mapstructure:"psp"`
	Timeouts TimeoutsConfig `yaml:"timeouts" mapstructure:"timeouts"`
	Monitor  MonitorConfig  `yaml:"monitor" mapstructure:"monitor"`
}

// NodeConfig is where a node listens and where the others reach it.
type NodeConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
	URL    string `yaml:"url" mapstructure:"url"`
}

// SwitchConfig configures the Switch and its validation gate
type SwitchConfig struct {
	NodeConfig   `yaml:",inline" mapstructure:",squash"`
	MinAmount    string   `yaml:"min_amount" mapstructure:"min_amount"`
	ProbeAmount  string   `yaml:"probe_amount" mapstructure:"probe_amount"`
	PurposeCodes []string `yaml:"purpose_codes" mapstructure:"purpose_codes"`
}

// BanksConfig holds both bank nodes
type BanksConfig struct {
	Remitter    BankConfig `yaml:"remitter" mapstructure:"remitter"`
	Beneficiary BankConfig `yaml:"beneficiary" mapstructure:"beneficiary"`
}

// BankConfig configures one bank node
type BankConfig struct {
	NodeConfig  `yaml:",inline" mapstructure:",squash"`
	OrgID       string `yaml:"org_id" mapstructure:"org_id"`
	DBPath      string `yaml:"db_path" mapstructure:"db_path"`
	MinAmount   string `yaml:"min_amount" mapstructure:"min_amount"`
	BlockedCode string `yaml:"blocked_code" mapstructure:"blocked_code"`
}

// PSPsConfig holds both PSP nodes
type PSPsConfig struct {
	Payer PSPConfig `yaml:"payer" mapstructure:"payer"`
	Payee PSPConfig `yaml:"payee" mapstructure:"payee"`
}

// PSPConfig configures one PSP node. MinAmount only applies to the payer side.
type PSPConfig struct {
	NodeConfig  `yaml:",inline" mapstructure:",squash"`
	OrgID       string `yaml:"org_id" mapstructure:"org_id"`
	DBPath      string `yaml:"db_path" mapstructure:"db_path"`
	MinAmount   string `yaml:"min_amount,omitempty" mapstructure:"min_amount"`
	BlockedCode string `yaml:"blocked_code" mapstructure:"blocked_code"`
}

// TimeoutsConfig bounds each hop class, as Go durations ("30s")
type TimeoutsConfig struct {
	Initial string `yaml:"initial" mapstructure:"initial"`
	Forward string `yaml:"forward" mapstructure:"forward"`
}

// MonitorConfig configures the admin server. Port 0 disables it.
type MonitorConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}
