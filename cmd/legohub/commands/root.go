package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by every subcommand, merged from the
// optional YAML config file and the command-line flags.
type Config struct {
	Address      string `yaml:"address"`
	ScanTimeout  string `yaml:"scan_timeout"`
	ReplyTimeout string `yaml:"reply_timeout"`
	LogLevel     string `yaml:"log_level"`

	scanTimeout  time.Duration
	replyTimeout time.Duration
}

var (
	cfgFile string
	cfg     = Config{
		ScanTimeout:  "15s",
		ReplyTimeout: "10s",
		LogLevel:     "info",
	}
)

var rootCmd = &cobra.Command{
	Use:   "legohub",
	Short: "legohub - LEGO wireless protocol hub driver",
	Long: `legohub talks to LEGO Boost and compatible hubs over Bluetooth Low
Energy: scan for hubs, inspect the attached peripherals and run a short
motor/LED demo.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&cfg.Address, "address", "", "hub BLE address (empty: first hub found)")
	rootCmd.PersistentFlags().StringVar(&cfg.ScanTimeout, "scan-timeout", cfg.ScanTimeout, "how long to scan for hubs")
	rootCmd.PersistentFlags().StringVar(&cfg.ReplyTimeout, "reply-timeout", cfg.ReplyTimeout, "how long to wait for a command reply (0: forever)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

func setup(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		data, err := os.ReadFile(cfgFile)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		fileCfg := Config{}
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
		// Flags set explicitly on the command line win over the file.
		if !cmd.Flags().Changed("address") && fileCfg.Address != "" {
			cfg.Address = fileCfg.Address
		}
		if !cmd.Flags().Changed("scan-timeout") && fileCfg.ScanTimeout != "" {
			cfg.ScanTimeout = fileCfg.ScanTimeout
		}
		if !cmd.Flags().Changed("reply-timeout") && fileCfg.ReplyTimeout != "" {
			cfg.ReplyTimeout = fileCfg.ReplyTimeout
		}
		if !cmd.Flags().Changed("log-level") && fileCfg.LogLevel != "" {
			cfg.LogLevel = fileCfg.LogLevel
		}
	}

	var err error
	if cfg.scanTimeout, err = time.ParseDuration(cfg.ScanTimeout); err != nil {
		return fmt.Errorf("invalid scan timeout: %w", err)
	}
	if cfg.replyTimeout, err = time.ParseDuration(cfg.ReplyTimeout); err != nil {
		return fmt.Errorf("invalid reply timeout: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	return nil
}
