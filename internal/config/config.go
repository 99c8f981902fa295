// Package config loads SQLWarden's settings from the command line and an
// optional YAML file. Flags win over file values; the file supports
// ${ENV_VAR} substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Options is the command-line surface.
type Options struct {
	ListenPort   int    `long:"listen-port" description:"TCP port to accept client connections on"`
	ListenSocket string `long:"listen-socket" description:"Unix domain socket to accept client connections on"`

	ConnectPort   int    `long:"connect-port" description:"TCP port of the protected MySQL server"`
	ConnectSocket string `long:"connect-socket" description:"Unix domain socket of the protected MySQL server"`
	Host          string `long:"host" description:"Host of the protected MySQL server" default:"127.0.0.1"`

	User        string `short:"u" long:"user" description:"Administrative user for reading login permissions"`
	Password    string `long:"password" description:"Password for the administrative user"`
	AskPassword bool   `long:"ask-password" description:"Prompt for the administrative password"`

	ConfigFile string `long:"config" description:"Load additional options from a file" default:"sqlwarden.yaml"`

	NetworkDir string `long:"network-dir" description:"Directory holding the Bayesian network files" default:"."`

	ParseWhitelistFile string `long:"parser-query-whitelist-file" description:"Whitelist of queries that may be forwarded despite failing to parse"`
	BlockWhitelistFile string `long:"blocked-query-whitelist-file" description:"Whitelist of queries that may be forwarded despite their risk"`

	PasswordRegex     string `long:"password-regex" description:"Regex identifying password-like column names"`
	PasswordSubstring string `long:"password-substring" description:"Substring identifying password-like column names"`
	UserRegex         string `long:"user-regex" description:"Regex identifying user-like table names"`
	UserSubstring     string `long:"user-substring" description:"Substring identifying user-like table names"`

	APIPort int `long:"api-port" description:"Port for the status and metrics HTTP server (0 disables)"`

	Verbose []bool `short:"v" long:"verbose" description:"Increase log verbosity (repeatable)"`
	Quiet   bool   `short:"q" long:"quiet" description:"Log fatal errors only"`
	Version bool   `long:"version" description:"Print version and exit"`
}

// fileConfig mirrors the YAML file layout.
type fileConfig struct {
	Listen struct {
		Port   int    `yaml:"port"`
		Socket string `yaml:"socket"`
	} `yaml:"listen"`
	Connect struct {
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
		Socket string `yaml:"socket"`
	} `yaml:"connect"`
	Admin struct {
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"admin"`
	NetworkDir string `yaml:"network_dir"`
	Whitelists struct {
		ParseFail string `yaml:"parse_fail"`
		Blocked   string `yaml:"blocked"`
	} `yaml:"whitelists"`
	Sensitive struct {
		PasswordRegex     string `yaml:"password_regex"`
		PasswordSubstring string `yaml:"password_substring"`
		UserRegex         string `yaml:"user_regex"`
		UserSubstring     string `yaml:"user_substring"`
	} `yaml:"sensitive"`
	Thresholds struct {
		Block float64 `yaml:"block"`
		Log   float64 `yaml:"log"`
	} `yaml:"thresholds"`
	APIPort int `yaml:"api_port"`
}

// Config is the resolved runtime configuration.
type Config struct {
	ListenPort   int
	ListenSocket string

	ConnectHost   string
	ConnectPort   int
	ConnectSocket string

	AdminUser     string
	AdminPassword string

	NetworkDir string

	ParseWhitelistFile string
	BlockWhitelistFile string

	PasswordRegex     string
	PasswordSubstring string
	UserRegex         string
	UserSubstring     string

	BlockThreshold float64
	LogThreshold   float64

	APIPort int

	Verbosity int // -1 quiet, 0 default, 1.. increasing
}

// ParseArgs parses the command line into Options. It returns flags.ErrHelp
// wrapped when the user asked for help.
func ParseArgs(args []string) (*Options, error) {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return opts, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// defaultConfigFile is the path probed when --config is not given; a
// missing default file is not an error.
const defaultConfigFile = "sqlwarden.yaml"

// Resolve merges the config file (when present) under the command-line
// options and validates the result.
func Resolve(opts *Options) (*Config, error) {
	cfg := &Config{
		ConnectHost:    "127.0.0.1",
		NetworkDir:     ".",
		BlockThreshold: 0.75,
		LogThreshold:   0.5,
	}

	data, err := os.ReadFile(opts.ConfigFile)
	switch {
	case err == nil:
		fc := &fileConfig{}
		if err := yaml.Unmarshal(substituteEnvVars(data), fc); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", opts.ConfigFile, err)
		}
		applyFile(cfg, fc)
	case os.IsNotExist(err) && opts.ConfigFile == defaultConfigFile:
		// The stock path is optional.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyOptions(cfg, opts)

	if opts.AskPassword {
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		cfg.AdminPassword = string(pw)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	cfg.ListenPort = fc.Listen.Port
	cfg.ListenSocket = fc.Listen.Socket
	if fc.Connect.Host != "" {
		cfg.ConnectHost = fc.Connect.Host
	}
	cfg.ConnectPort = fc.Connect.Port
	cfg.ConnectSocket = fc.Connect.Socket
	cfg.AdminUser = fc.Admin.User
	cfg.AdminPassword = fc.Admin.Password
	if fc.NetworkDir != "" {
		cfg.NetworkDir = fc.NetworkDir
	}
	cfg.ParseWhitelistFile = fc.Whitelists.ParseFail
	cfg.BlockWhitelistFile = fc.Whitelists.Blocked
	cfg.PasswordRegex = fc.Sensitive.PasswordRegex
	cfg.PasswordSubstring = fc.Sensitive.PasswordSubstring
	cfg.UserRegex = fc.Sensitive.UserRegex
	cfg.UserSubstring = fc.Sensitive.UserSubstring
	if fc.Thresholds.Block != 0 {
		cfg.BlockThreshold = fc.Thresholds.Block
	}
	if fc.Thresholds.Log != 0 {
		cfg.LogThreshold = fc.Thresholds.Log
	}
	cfg.APIPort = fc.APIPort
}

func applyOptions(cfg *Config, opts *Options) {
	if opts.ListenPort != 0 {
		cfg.ListenPort = opts.ListenPort
	}
	if opts.ListenSocket != "" {
		cfg.ListenSocket = opts.ListenSocket
	}
	if opts.ConnectPort != 0 {
		cfg.ConnectPort = opts.ConnectPort
	}
	if opts.ConnectSocket != "" {
		cfg.ConnectSocket = opts.ConnectSocket
	}
	if opts.Host != "" && opts.Host != "127.0.0.1" {
		cfg.ConnectHost = opts.Host
	}
	if opts.User != "" {
		cfg.AdminUser = opts.User
	}
	if opts.Password != "" {
		cfg.AdminPassword = opts.Password
	}
	if opts.NetworkDir != "" && opts.NetworkDir != "." {
		cfg.NetworkDir = opts.NetworkDir
	}
	if opts.ParseWhitelistFile != "" {
		cfg.ParseWhitelistFile = opts.ParseWhitelistFile
	}
	if opts.BlockWhitelistFile != "" {
		cfg.BlockWhitelistFile = opts.BlockWhitelistFile
	}
	if opts.PasswordRegex != "" {
		cfg.PasswordRegex = opts.PasswordRegex
	}
	if opts.PasswordSubstring != "" {
		cfg.PasswordSubstring = opts.PasswordSubstring
	}
	if opts.UserRegex != "" {
		cfg.UserRegex = opts.UserRegex
	}
	if opts.UserSubstring != "" {
		cfg.UserSubstring = opts.UserSubstring
	}
	if opts.APIPort != 0 {
		cfg.APIPort = opts.APIPort
	}

	cfg.Verbosity = len(opts.Verbose)
	if opts.Quiet {
		cfg.Verbosity = -1
	}
}

func validate(cfg *Config) error {
	listenForms := 0
	if cfg.ListenPort != 0 {
		listenForms++
	}
	if cfg.ListenSocket != "" {
		listenForms++
	}
	if listenForms != 1 {
		return fmt.Errorf("exactly one of listen port or listen socket must be set")
	}

	connectForms := 0
	if cfg.ConnectPort != 0 {
		connectForms++
	}
	if cfg.ConnectSocket != "" {
		connectForms++
	}
	if connectForms != 1 {
		return fmt.Errorf("exactly one of connect port or connect socket must be set")
	}

	if cfg.ListenPort != 0 && (cfg.ListenPort < 1 || cfg.ListenPort > 65535) {
		return fmt.Errorf("listen port %d out of range 1..65535", cfg.ListenPort)
	}
	if cfg.ConnectPort != 0 && (cfg.ConnectPort < 1 || cfg.ConnectPort > 65535) {
		return fmt.Errorf("connect port %d out of range 1..65535", cfg.ConnectPort)
	}
	if cfg.APIPort != 0 && (cfg.APIPort < 1 || cfg.APIPort > 65535) {
		return fmt.Errorf("api port %d out of range 1..65535", cfg.APIPort)
	}

	if cfg.BlockThreshold < cfg.LogThreshold {
		return fmt.Errorf("block threshold %f below log threshold %f", cfg.BlockThreshold, cfg.LogThreshold)
	}
	return nil
}
