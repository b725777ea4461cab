package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"stampy/internal/config"
	"stampy/internal/logging"
	"stampy/internal/store"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func configCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify the persisted configuration",
		Long:  "Get, set, unset and list keys of the config table in the bot database.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, v, func(ctx context.Context, st *store.SQLiteStore) error {
				value, ok, err := st.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q is not set", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a config value (e.g. owner iranzo, sleep 30, daemon true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, err := normalizeValue(key, args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, v, func(ctx context.Context, st *store.SQLiteStore) error {
				if err := st.Set(ctx, key, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, config.Sanitize(key, value))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, v, func(ctx context.Context, st *store.SQLiteStore) error {
				return st.Delete(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values, secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, v, func(ctx context.Context, st *store.SQLiteStore) error {
				entries, err := st.List(ctx)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", e.Key, config.Sanitize(e.Key, e.Value))
				}
				return nil
			})
		},
	})

	return cmd
}

func withStore(cmd *cobra.Command, v *viper.Viper, fn func(context.Context, *store.SQLiteStore) error) error {
	opts, err := loadOptions(v)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbosity != "" {
		level, _ := logging.ParseLevel(opts.Verbosity)
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	}
	st, err := store.NewSQLiteStore(opts.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cmd.Context(), st)
}

// normalizeValue enforces the canonical encodings for typed keys.
func normalizeValue(key, value string) (string, error) {
	switch key {
	case config.KeyDaemon:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		if b {
			return "1", nil
		}
		return "0", nil
	case config.KeySleep:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%s must be a non-negative number of seconds", key)
		}
		return strconv.Itoa(n), nil
	case config.KeyVerbosity:
		if _, ok := logging.ParseLevel(value); !ok {
			return "", fmt.Errorf("%s must be one of: %s", key, strings.Join(logging.Verbosities, ", "))
		}
		return strings.ToLower(value), nil
	}
	return value, nil
}
