// Package environment assembles runtime configuration from two sources: the
// process environment (connection strings, loaded through .env in dev) and an
// optional grader.toml for grading behavior.
package environment

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/practicepy/grader/internal/sandbox"
)

type EnvConfig struct {
	SqlxConnString string
	NatsURL        string
	SqsQueueUrl    string
}

// ReadEnvConfig loads .env when present and builds the connection settings.
// A missing .env is not an error; production usually sets the variables
// directly.
func ReadEnvConfig() (*EnvConfig, error) {
	_ = godotenv.Load()

	result := &EnvConfig{}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASS")
	dbName := os.Getenv("DB_NAME")
	dbSslMode := os.Getenv("DB_SSLMODE")

	result.SqlxConnString = fmt.Sprintf(
		`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		dbHost, dbPort, dbUser, dbPass, dbName, dbSslMode)

	result.NatsURL = os.Getenv("NATS_URL")
	if result.NatsURL == "" {
		result.NatsURL = "nats://localhost:4222"
	}

	result.SqsQueueUrl = os.Getenv("SQS_QUEUE_URL")
	if result.SqsQueueUrl == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is not set")
	}

	return result, nil
}

// GraderConfig tunes how submissions are run. Zero values fall back to the
// built-in defaults, so a partial file is fine.
type GraderConfig struct {
	Interpreter   string `toml:"interpreter"`
	FirejailBin   string `toml:"firejail_bin"`
	WallSeconds   int    `toml:"wall_seconds"`
	DefaultLocale string `toml:"default_locale"`

	Limits struct {
		FileSizeKB   int   `toml:"file_size_kb"`
		OpenFiles    int   `toml:"open_files"`
		Processes    int   `toml:"processes"`
		CpuSeconds   int   `toml:"cpu_seconds"`
		AddressSpace int64 `toml:"address_space"`
	} `toml:"limits"`
}

func defaultGraderConfig() GraderConfig {
	cfg := GraderConfig{
		Interpreter:   "python3",
		FirejailBin:   "firejail",
		WallSeconds:   40,
		DefaultLocale: "en",
	}
	lim := sandbox.DefaultLimits()
	cfg.Limits.FileSizeKB = lim.FileSizeKB
	cfg.Limits.OpenFiles = lim.MaxOpenFiles
	cfg.Limits.Processes = lim.MaxProcesses
	cfg.Limits.CpuSeconds = lim.CpuTimeSec
	cfg.Limits.AddressSpace = lim.AddressSpaceBytes
	return cfg
}

// ReadGraderConfig parses a grader TOML file, overlaying it on the defaults.
// An empty path returns the defaults untouched.
func ReadGraderConfig(path string) (GraderConfig, error) {
	cfg := defaultGraderConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read grader config: %w", err)
	}

	var file GraderConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse grader config: %w", err)
	}

	if file.Interpreter != "" {
		cfg.Interpreter = file.Interpreter
	}
	if file.FirejailBin != "" {
		cfg.FirejailBin = file.FirejailBin
	}
	if file.WallSeconds > 0 {
		cfg.WallSeconds = file.WallSeconds
	}
	if file.DefaultLocale != "" {
		cfg.DefaultLocale = file.DefaultLocale
	}
	if file.Limits.FileSizeKB > 0 {
		cfg.Limits.FileSizeKB = file.Limits.FileSizeKB
	}
	if file.Limits.OpenFiles > 0 {
		cfg.Limits.OpenFiles = file.Limits.OpenFiles
	}
	if file.Limits.Processes > 0 {
		cfg.Limits.Processes = file.Limits.Processes
	}
	if file.Limits.CpuSeconds > 0 {
		cfg.Limits.CpuSeconds = file.Limits.CpuSeconds
	}
	if file.Limits.AddressSpace > 0 {
		cfg.Limits.AddressSpace = file.Limits.AddressSpace
	}

	return cfg, nil
}

// SandboxLimits converts the configured limits back into sandbox form.
func (c GraderConfig) SandboxLimits() sandbox.Limits {
	return sandbox.Limits{
		FileSizeKB:        c.Limits.FileSizeKB,
		MaxOpenFiles:      c.Limits.OpenFiles,
		MaxProcesses:      c.Limits.Processes,
		CpuTimeSec:        c.Limits.CpuSeconds,
		AddressSpaceBytes: c.Limits.AddressSpace,
	}
}

// WallTimeout is the configured wall-clock budget as a duration.
func (c GraderConfig) WallTimeout() time.Duration {
	return time.Duration(c.WallSeconds) * time.Second
}
