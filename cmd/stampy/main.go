package main

import (
	"fmt"
	"os"
	"strings"

	"stampy/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "STAMPY"

var version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(runBot)
}

// buildRootCmd wires flags and the config subcommands; run receives the
// merged options of the root command.
func buildRootCmd(run func(*cobra.Command, config.Options) error) *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:     "stampy",
		Short:   "Stampy: Telegram karma bot",
		Long:    "Stampy polls the Telegram Bot API, hands every message to its plugins and answers a few administrative commands.",
		Version: version,
		// errors are logged by the bot itself; keep cobra from printing usage on them
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			return run(cmd, opts)
		},
	}

	defaults := config.Defaults()
	pf := root.PersistentFlags()
	pf.String("config", "", "optional config file (yaml, json or toml)")
	pf.StringP("database", "b", defaults.Database, "SQLite database file")
	pf.StringP("verbosity", "v", "", "log level: info|debug|warn|critical")
	pf.String("log-file", "", "also append logs to this file")

	f := root.Flags()
	f.StringP("token", "t", "", "Telegram bot API token")
	f.StringP("url", "u", defaults.URL, "Telegram bot API base URL")
	f.StringP("owner", "o", defaults.Owner, "username allowed to run admin commands")
	f.BoolP("daemon", "d", false, "keep polling until /quit instead of running once")
	f.String("plugins", "", "YAML manifest enabling or disabling plugins")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")

	for key, flag := range map[string]string{
		"config":    "config",
		"database":  "database",
		"verbosity": "verbosity",
		"log_file":  "log-file",
	} {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}
	for key, flag := range map[string]string{
		"token":        "token",
		"url":          "url",
		"owner":        "owner",
		"daemon":       "daemon",
		"plugins":      "plugins",
		"metrics_addr": "metrics-addr",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root.AddCommand(configCmd(v))
	return root
}

// loadOptions merges flags, STAMPY_* environment variables and the
// optional config file into Options.
func loadOptions(v *viper.Viper) (config.Options, error) {
	var opts config.Options
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return opts, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	if err := v.Unmarshal(&opts); err != nil {
		return opts, fmt.Errorf("decode options: %w", err)
	}
	if err := config.Validate(opts); err != nil {
		return opts, err
	}
	return opts, nil
}
