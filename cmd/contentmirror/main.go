package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentworkforce/contentmirror/internal/collector"
	"github.com/agentworkforce/contentmirror/internal/config"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "0.1.0"
	Build   = "dev"
)

// Exit codes follow sysexits.h where one fits.
const (
	exitOK      = 0
	exitFailure = 1
	exitInvalid = 65
	exitLocked  = 75
	exitConfig  = 78
)

var (
	configPath    string
	logFile       string
	logMaxSizeMB  int
	logMaxBackups int
	logMaxAgeDays int
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:           "contentmirror",
	Short:         "Mirror Directus collections into a page tree",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOrDefault("CONTENTMIRROR_CONFIG", "contentmirror.yaml"), "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", strings.TrimSpace(os.Getenv("CONTENTMIRROR_LOG_FILE")), "write logs to a rotating file instead of stderr")
	rootCmd.PersistentFlags().IntVar(&logMaxSizeMB, "log-max-size", intEnv("CONTENTMIRROR_LOG_MAX_SIZE", 50), "log file size in MB before rotation")
	rootCmd.PersistentFlags().IntVar(&logMaxBackups, "log-max-backups", intEnv("CONTENTMIRROR_LOG_MAX_BACKUPS", 5), "rotated log files to keep")
	rootCmd.PersistentFlags().IntVar(&logMaxAgeDays, "log-max-age", intEnv("CONTENTMIRROR_LOG_MAX_AGE", 28), "days to keep rotated log files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-mapping results")
	rootCmd.Version = fmt.Sprintf("%s (%s)", Version, Build)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, collector.ErrLocked):
		return exitLocked
	case errors.Is(err, config.ErrInvalidConfig):
		return exitConfig
	case errors.Is(err, errInvalidTree):
		return exitInvalid
	default:
		return exitFailure
	}
}

// setupLogging routes the standard logger, which every component receives as
// its Logger, to a rotating file when --log-file is set.
func setupLogging(fallback io.Writer) {
	log.SetFlags(log.LstdFlags | log.LUTC)
	if logFile == "" {
		log.SetOutput(fallback)
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	})
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}
