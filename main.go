// Package main provides the entry point for the voiceq CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/app"
	"github.com/dgnsrekt/voiceq/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	runtimeDir string

	cfg config.Config
	svc *app.Services

	rootCmd = &cobra.Command{
		Use:   "voiceq",
		Short: "Speak notifications without ever blocking the caller",
		Long: paragraph(
			fmt.Sprintf("\nQueue spoken notifications durably and deliver them from a %s, so the caller never waits on audio.", keyword("background worker")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if svc != nil {
				return svc.Close()
			}
			return nil
		},
	}
)

// loadServices resolves the configuration and builds the service
// context shared by every subcommand.
func loadServices(cmd *cobra.Command) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	// The config command must work even when the runtime dir is broken.
	if cmd == configCmd || cmd == manCmd {
		return nil
	}

	svc, err = app.New(cfg, log.Default())
	return err
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	// Assigned here rather than in the literal to break the
	// rootCmd -> loadServices -> manCmd -> rootCmd initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return loadServices(cmd)
	}
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")
	rootCmd.PersistentFlags().StringVar(&runtimeDir, "runtime-dir", "", "directory for the queue, pid and state files")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("runtime_dir", rootCmd.PersistentFlags().Lookup("runtime-dir"))

	defaults := config.DefaultConfig()
	viper.SetDefault("enabled", defaults.Enabled)
	viper.SetDefault("voice.default", defaults.Voice.Default)
	viper.SetDefault("sink.kind", defaults.Sink.Kind)

	rootCmd.AddCommand(
		speakCmd, greetCmd, completeCmd, errorCmd, approveCmd,
		queueCmd, daemonCmd, sessionsCmd, contextCmd,
		configCmd, manCmd,
	)
}

func tryLoadConfigFromDefaultPlaces() {
	dirs := config.ConfigDirs()
	if len(dirs) == 0 {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	configFile = filepath.Join(dirs[0], config.AppName+".yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
