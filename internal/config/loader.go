package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// AppName names the config and data directories.
const AppName = "voiceq"

// Load resolves the configuration: defaults, then whatever viper holds
// (config file and bound flags), then VOICEQ_* environment variables.
// A nil viper skips the file layer.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	if v != nil {
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}

	if p, ok := os.LookupEnv("VOICEQ_ENV_FILE"); ok {
		cfg.EnvFile = p
	}
	if err := LoadEnvFile(cfg.EnvFile); err != nil {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.RuntimeDir == "" {
		dir, err := DefaultRuntimeDir()
		if err != nil {
			return cfg, err
		}
		cfg.RuntimeDir = dir
	}

	dir, err := ExpandPath(cfg.RuntimeDir)
	if err != nil {
		return cfg, fmt.Errorf("expand runtime_dir: %w", err)
	}
	cfg.RuntimeDir = dir

	for i, d := range cfg.Daemon.WatchDirs {
		if cfg.Daemon.WatchDirs[i], err = ExpandPath(d); err != nil {
			return cfg, fmt.Errorf("expand watch dir %q: %w", d, err)
		}
	}

	return cfg, cfg.Validate()
}

// LoadEnvFile loads KEY=value pairs from path into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	path, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ExpandPath expands environment variables and a leading tilde.
func ExpandPath(path string) (string, error) {
	return homedir.Expand(os.ExpandEnv(path))
}

// ConfigDirs lists the directories searched for voiceq.yml, most
// specific first.
func ConfigDirs() []string {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("VOICEQ_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs
}

// DefaultRuntimeDir is the per-user data directory.
func DefaultRuntimeDir() (string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.DataDirs()
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	if len(dirs) == 0 {
		return filepath.Join(os.TempDir(), AppName), nil
	}
	return dirs[0], nil
}

// Paths is the layout of the runtime directory.
type Paths struct {
	Dir          string
	QueueDB      string
	PIDFile      string
	DaemonLock   string
	StatusFile   string
	LogFile      string
	SessionsFile string
	DedupFile    string
	SpeechLock   string
	SpeechTime   string
	StateFile    string
}

// Paths returns the runtime file layout under RuntimeDir.
func (c Config) Paths() Paths {
	j := func(name string) string { return filepath.Join(c.RuntimeDir, name) }
	return Paths{
		Dir:          c.RuntimeDir,
		QueueDB:      j("queue.db"),
		PIDFile:      j("daemon.pid"),
		DaemonLock:   j("daemon.lock"),
		StatusFile:   j("daemon.status"),
		LogFile:      j("daemon.log"),
		SessionsFile: j("sessions.json"),
		DedupFile:    j("dedup.json"),
		SpeechLock:   j("speech.lock"),
		SpeechTime:   j("last_speech.time"),
		StateFile:    j("state.json"),
	}
}

// EnsureDir creates the runtime directory.
func (p Paths) EnsureDir() error {
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	return nil
}
