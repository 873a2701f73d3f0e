package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "clinicops.yaml"

// Config holds the application configuration.
type Config struct {
	WorkDir     string `yaml:"-"`
	DatabaseURL string `yaml:"database_url"`
	SecretKey   string `yaml:"secret_key"`
	Debug       bool   `yaml:"debug"`
	JournalPath string `yaml:"journal_path"`
	LogLevel    string `yaml:"log_level"`

	Server  ServerConfig  `yaml:"server"`
	Backup  BackupConfig  `yaml:"backup"`
	Publish PublishConfig `yaml:"publish"`
	API     APIConfig     `yaml:"api"`
}

// ServerConfig describes how the scheduler server is launched and recognised.
type ServerConfig struct {
	Command      []string `yaml:"command"`
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	LogFile      string   `yaml:"log_file"`
	PidFile      string   `yaml:"pid_file"`
	Signature    string   `yaml:"signature"` // substring of the launch command line
	MatchCmdline bool     `yaml:"match_cmdline"`
	StopTimeout  Duration `yaml:"stop_timeout"`
	StartTimeout Duration `yaml:"start_timeout"`
	PollInterval Duration `yaml:"poll_interval"`
	Env          []string `yaml:"env"`
}

type BackupConfig struct {
	Source   string `yaml:"source"`
	Dir      string `yaml:"dir"`
	Retain   int    `yaml:"retain"`
	Schedule string `yaml:"schedule"`
}

type PublishConfig struct {
	Remote        string `yaml:"remote"`
	CommitMessage string `yaml:"commit_message"`
	Username      string `yaml:"-"`
	Token         string `yaml:"-"`
}

type APIConfig struct {
	Listen         string   `yaml:"listen"`
	Secret         string   `yaml:"secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Duration is a time.Duration that reads as "10s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration rooted at workDir.
func Default(workDir string) *Config {
	return &Config{
		WorkDir:     workDir,
		DatabaseURL: "sqlite:///./clinic_scheduler.db",
		JournalPath: filepath.Join(".clinicops", "journal.db"),
		LogLevel:    "info",
		Server: ServerConfig{
			Command:      []string{"python3", "run_production.py"},
			Host:         "localhost",
			Port:         8000,
			LogFile:      "server.log",
			PidFile:      filepath.Join(".clinicops", "server.pid"),
			Signature:    "run_production.py",
			StopTimeout:  Duration(10 * time.Second),
			StartTimeout: Duration(15 * time.Second),
			PollInterval: Duration(250 * time.Millisecond),
		},
		Backup: BackupConfig{
			Source:   "clinic_scheduler.db",
			Dir:      "backups",
			Retain:   10,
			Schedule: "0 2 * * *",
		},
		Publish: PublishConfig{
			Remote:        "origin",
			CommitMessage: "Deploy: update clinic scheduler",
		},
		API: APIConfig{
			Listen:         "127.0.0.1:8090",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order. An empty path means DefaultFile inside workDir,
// which is skipped when it does not exist.
func Load(workDir, path string) (*Config, error) {
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workDir = wd
	}
	cfg := Default(workDir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(workDir, DefaultFile)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SecretKey = getEnv("SECRET_KEY", c.SecretKey)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if v, ok := os.LookupEnv("DEBUG"); ok {
		c.Debug = strings.EqualFold(v, "true")
	}

	if v, ok := os.LookupEnv("SERVER_COMMAND"); ok {
		c.Server.Command = strings.Fields(v)
	}
	c.Server.LogFile = getEnv("SERVER_LOG", c.Server.LogFile)
	c.Server.PidFile = getEnv("SERVER_PID_FILE", c.Server.PidFile)
	c.Server.Signature = getEnv("SERVER_SIGNATURE", c.Server.Signature)

	var err error
	if c.Server.Port, err = getEnvInt("PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Server.StopTimeout, err = getEnvDuration("SERVER_STOP_TIMEOUT", c.Server.StopTimeout); err != nil {
		return err
	}
	if c.Server.StartTimeout, err = getEnvDuration("SERVER_START_TIMEOUT", c.Server.StartTimeout); err != nil {
		return err
	}
	if c.Server.PollInterval, err = getEnvDuration("SERVER_POLL_INTERVAL", c.Server.PollInterval); err != nil {
		return err
	}

	c.Backup.Source = getEnv("BACKUP_SOURCE", c.Backup.Source)
	c.Backup.Dir = getEnv("BACKUP_DIR", c.Backup.Dir)
	c.Backup.Schedule = getEnv("BACKUP_SCHEDULE", c.Backup.Schedule)
	if c.Backup.Retain, err = getEnvInt("BACKUP_RETAIN", c.Backup.Retain); err != nil {
		return err
	}

	c.Publish.Remote = getEnv("GIT_REMOTE", c.Publish.Remote)
	c.Publish.Username = getEnv("GIT_USERNAME", c.Publish.Username)
	c.Publish.Token = getEnv("GIT_TOKEN", c.Publish.Token)

	c.API.Listen = getEnv("OPS_API_LISTEN", c.API.Listen)
	c.API.Secret = getEnv("OPS_API_SECRET", c.API.Secret)
	if c.API.Secret == "" {
		c.API.Secret = c.SecretKey
	}
	if v, ok := os.LookupEnv("OPS_API_ORIGINS"); ok {
		c.API.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}

// Validate reports settings that would make every command fail later.
func (c *Config) Validate() error {
	if len(c.Server.Command) == 0 {
		return errors.New("server command is empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.StopTimeout <= 0 || c.Server.StartTimeout <= 0 || c.Server.PollInterval <= 0 {
		return errors.New("server timeouts and poll interval must be positive")
	}
	if c.Backup.Retain <= 0 {
		return fmt.Errorf("backup retention must be positive, got %d", c.Backup.Retain)
	}
	return nil
}

// Path resolves p against the working directory unless it is already absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.WorkDir, p)
}

// ServerEnv is the environment handed to the launched server: the opaque
// application settings plus any configured extras.
func (c *Config) ServerEnv() []string {
	env := []string{
		"DATABASE_URL=" + c.DatabaseURL,
		"PORT=" + strconv.Itoa(c.Server.Port),
		"DEBUG=" + strconv.FormatBool(c.Debug),
	}
	if c.SecretKey != "" {
		env = append(env, "SECRET_KEY="+c.SecretKey)
	}
	return append(env, c.Server.Env...)
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback Duration) (Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return Duration(d), nil
}
