package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/dgnsrekt/voiceq/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# speak at all; when false, pending notifications are discarded
enabled: true
# log debug output
debug: false
# directory for the queue, pid and state files (default: user data dir)
# runtime_dir: "~/.local/share/voiceq"
# KEY=value file loaded before the worker starts
env_file: ".env"

queue:
  # failed deliveries retried before a message is dropped (1-10)
  max_retries: 3
  # first retry delay; later retries scale 0, 1x, 2x, 4x, 10x, 20x
  retry_backoff_base: "500ms"
  # how long the worker waits for a message per poll (0.1s-10s)
  poll_timeout: "500ms"

timing:
  # minimum gap between two spoken messages (0-60s)
  min_speech_delay: "1s"
  # idle time before a session gives its voice back (1h-72h)
  session_expiry: "4h"
  # identical text within this window is spoken once
  dedup_window: "5s"
  # how long synchronous speech waits for the output
  speech_lock_timeout: "10s"

voice:
  # preferred voice: nova, alloy, echo, fable, onyx or shimmer
  default: "nova"
  # platform voice for voices without a mapping
  # fallback_voice: "Samantha"
  # words per minute; 0 keeps the synthesizer default
  rate: 0
  # shorter text is not spoken
  min_chars: 3
  # map:
  #   nova: "Samantha"
  #   onyx: "Daniel"

sink:
  # command (say/espeak/SAPI), log, or none
  kind: "command"
  timeout: "30s"

daemon:
  startup_wait: "2s"
  stop_timeout: "5s"
  status_interval: "1s"
  # quiet period before "daemon dev" restarts the worker
  reload_debounce: "1.5s"
  watch_dirs:
    - "."
`

var showConfigPath bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the voiceq config file",
	Long:    paragraph(fmt.Sprintf("\n%s the voiceq config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("voiceq config\nvoiceq config --path\nvoiceq config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		if showConfigPath {
			fmt.Println(configFile)
			return nil
		}

		c, err := editor.Cmd("voiceq", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return checkConfigFile(configFile)
	},
}

func init() {
	configCmd.Flags().BoolVar(&showConfigPath, "path", false, "print the config file path instead of editing it")
}

// checkConfigFile re-reads an edited file so mistakes surface now rather
// than in the next caller, which would silently fall back to defaults.
func checkConfigFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config file does not parse: %w", err)
	}
	if _, err := config.Load(v); err != nil {
		return fmt.Errorf("config file is invalid: %w", err)
	}
	return nil
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
