package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ilvlbot/internal/bot"
	"ilvlbot/internal/channel"
	"ilvlbot/internal/config"
	"ilvlbot/internal/itemlevel"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = newTintLogger(os.Stderr, slog.LevelInfo, false)
	bot.SetVersion(version)

	root := &cobra.Command{
		Use:     "ilvlbot",
		Short:   "ilvlbot: World of Warcraft item level chat bot",
		Long:    "ilvlbot answers \"what is the item level of <name>@<realm>\" over CLI, Telegram, Discord, Slack, webhook and WebSocket.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotenvIfPresent(".env", filepath.Join(config.DefaultConfigDir(), ".env"))
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.ilvlbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(lookupCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does not
// exist, and switches the global logger to the configured level and file.
func loadConfig() (*config.Config, func(), error) {
	cfgPath := resolveConfigPath()
	cfg, found, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	l, closer, err := newLogger(cfg.General, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	slog.SetDefault(logger)

	if !found {
		logger.Warn("config not found, using defaults", "path", cfgPath)
	}
	return cfg, func() { _ = closer.Close() }, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}

			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.General.DataDir, cfg.Recognizer.IntentsDir} {
				if err := os.MkdirAll(config.ExpandPath(dir), 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "data_dir", config.ExpandPath(cfg.General.DataDir))
			fmt.Println("Set BATTLENET_CLIENT_ID and BATTLENET_CLIENT_SECRET, then run 'ilvlbot chat'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.loop.Run(loopCtx)
	}()

	fmt.Printf("ilvlbot v%s. Ask for a character's item level, /help for commands, /quit to exit.\n\n", version)
	cli := channel.NewCLI(channel.CLIConfig{Logger: logger, Spinner: true})
	err = cli.Start(ctx, a.bus)

	cancelLoop()
	<-loopDone
	return err
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve every enabled network channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			channels := buildChannels(cfg, a.events, logger)
			if len(channels) == 0 {
				return fmt.Errorf("no network channels enabled; enable one under \"channels\" or use 'ilvlbot chat'")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.loop.Run(gctx)
				return nil
			})
			g.Go(func() error { return a.purgeExpired(gctx, purgeInterval) })
			for _, ch := range channels {
				g.Go(func() error {
					logger.Info("channel starting", "channel", ch.Name())
					if err := ch.Start(gctx, a.bus); err != nil {
						return fmt.Errorf("%s: %w", ch.Name(), err)
					}
					return nil
				})
			}

			logger.Info("gateway running", "channels", len(channels), "store", cfg.Dialog.Store, "recognizer", cfg.Recognizer.Mode)
			err = g.Wait()

			for _, ch := range channels {
				if stopErr := ch.Stop(); stopErr != nil {
					logger.Warn("channel stop failed", "channel", ch.Name(), "err", stopErr)
				}
			}
			logger.Info("gateway stopped")
			return err
		},
	}
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <name> <realm...>",
		Short: "Look up a character's item level once and exit",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.BattleNet.TimeoutSeconds+5)*time.Second)
			defer cancel()

			q := itemlevel.CharacterQuery{Name: args[0], Realm: strings.Join(args[1:], " ")}
			fmt.Println(a.ilvl.PerformLookup(ctx, q))
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lookups (sqlite store only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			if cfg.Dialog.Store != "sqlite" {
				return fmt.Errorf("lookup history is only kept with dialog.store = \"sqlite\" (current: %q)", cfg.Dialog.Store)
			}
			return printHistory(cmd.Context(), cfg.Dialog.SQLitePath, limit, os.Stdout)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of lookups to show")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or modify config values",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Print a config value, e.g. battlenet.region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			v, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value and save",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("%s updated\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every config path with its value (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			return printJSON(config.ListPaths(config.Sanitize(cfg)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
