package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mkarlsson/chatrelay/pkg/api"
	"github.com/mkarlsson/chatrelay/pkg/datastore"
	"github.com/mkarlsson/chatrelay/pkg/server"
)

// loadConfig merges defaults, an optional config file and CHATRELAY_*
// environment variables, with command-line flags taking precedence.
func loadConfig(cmd *cobra.Command, configFile string) (server.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("chatrelay")
	v.AutomaticEnv()

	defaults := server.DefaultConfig()
	v.SetDefault("listen", defaults.ListenAddr)
	v.SetDefault("db", defaults.DBPath)
	v.SetDefault("metrics", defaults.MetricsAddr)
	v.SetDefault("seed-file", "")
	v.SetDefault("typing-ttl", defaults.TypingTTL)
	v.SetDefault("token-ttl", defaults.TokenTTL)
	v.SetDefault("cleanup-interval", defaults.CleanupInterval)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return server.Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, name := range []string{"listen", "db", "metrics", "seed-file", "typing-ttl", "token-ttl", "cleanup-interval"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return server.Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return server.Config{
		ListenAddr:      v.GetString("listen"),
		DBPath:          v.GetString("db"),
		MetricsAddr:     v.GetString("metrics"),
		SeedFile:        v.GetString("seed-file"),
		TypingTTL:       v.GetDuration("typing-ttl"),
		TokenTTL:        v.GetDuration("token-ttl"),
		CleanupInterval: v.GetDuration("cleanup-interval"),
	}, nil
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}

			st, err := datastore.NewProviderFactory(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			srv := server.New(cfg, server.Dependencies{Store: st})
			restAPI := api.New(st, srv.Auth(), srv)
			return srv.Run(restAPI.Handler())
		},
	}

	defaults := server.DefaultConfig()
	cmd.Flags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	cmd.Flags().String("listen", defaults.ListenAddr, "HTTP bind address for the websocket and REST endpoints")
	cmd.Flags().String("db", defaults.DBPath, "SQLite database file path")
	cmd.Flags().String("metrics", defaults.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	cmd.Flags().String("seed-file", "", "YAML file defining users and conversations to create on startup")
	cmd.Flags().Duration("typing-ttl", defaults.TypingTTL, "How long a typing indicator lives without refresh")
	cmd.Flags().Duration("token-ttl", defaults.TokenTTL, "Access token lifetime")
	cmd.Flags().Duration("cleanup-interval", defaults.CleanupInterval, "How often expired tokens are purged")

	return cmd
}
