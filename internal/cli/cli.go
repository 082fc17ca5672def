package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/verbaquest/chime/internal/backend"
	"github.com/verbaquest/chime/internal/caps"
	"github.com/verbaquest/chime/internal/codec"
	"github.com/verbaquest/chime/internal/config"
	"github.com/verbaquest/chime/internal/engine"
	"github.com/verbaquest/chime/internal/manifest"
	"github.com/verbaquest/chime/internal/settings"
	"github.com/verbaquest/chime/internal/tracking"
)

const Version = "0.3.0"

// CLI represents the command-line interface
type CLI struct {
	rootCmd       *cobra.Command
	configManager *config.Manager
	engine        *engine.Engine
	recorder      *tracking.Recorder
	trackingDB    *sql.DB
}

// NewCLI creates a new CLI instance
func NewCLI() *CLI {
	rootCmd := &cobra.Command{
		Use:   "chime",
		Short: "Audio resource engine",
		Long:  "Chime loads, preloads and plays manifest-described audio clips with pluggable output backends.",
	}

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newPreloadCommand())
	rootCmd.AddCommand(newManifestCommand())
	rootCmd.AddCommand(newCapsCommand())
	rootCmd.AddCommand(newAnalyzeCommand())

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("volume", "", "Set master volume (0.0 to 1.0)")
	rootCmd.PersistentFlags().String("manifest", "", "Path or URL of the audio manifest")
	rootCmd.PersistentFlags().String("audio-dir", "", "Base directory for clip files")
	rootCmd.PersistentFlags().Bool("silent", false, "Silent mode - no audio playback")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return &CLI{rootCmd: rootCmd}
}

// contextWithCLI stores the CLI instance in context for command handlers
func contextWithCLI(cli *CLI) context.Context {
	return context.WithValue(context.Background(), cliContextKey{}, cli)
}

type cliContextKey struct{}

// cliFromContext extracts the CLI instance from context
func cliFromContext(ctx context.Context) *CLI {
	if cli, ok := ctx.Value(cliContextKey{}).(*CLI); ok {
		return cli
	}
	return nil
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	// Version requests skip all system initialization
	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		fmt.Fprintf(stdout, "chime version %s\n", Version)
		return 0
	}

	c.configManager = config.NewManager()

	defer func() {
		if c.engine != nil {
			c.engine.Destroy()
		}
		if c.recorder != nil {
			c.recorder.Detach()
		}
		if c.trackingDB != nil {
			if err := c.trackingDB.Close(); err != nil {
				slog.Error("error closing tracking database", "error", err)
			}
		}
	}()

	c.rootCmd.SetArgs(args[1:])
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)
	c.rootCmd.SetContext(contextWithCLI(c))

	if err := c.rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

// loadConfig resolves configuration from file, environment and flags
func (c *CLI) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		cfg, err = c.configManager.LoadFromFile(configFile)
	} else {
		cfg, err = c.configManager.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	cfg = c.configManager.ApplyEnvironmentOverrides(cfg)

	if volumeStr, _ := cmd.Flags().GetString("volume"); volumeStr != "" {
		volume, parseErr := strconv.ParseFloat(volumeStr, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid volume flag %q: %w", volumeStr, parseErr)
		}
		cfg.Volume = volume
	}
	if manifestFlag, _ := cmd.Flags().GetString("manifest"); manifestFlag != "" {
		if isURL(manifestFlag) {
			cfg.ManifestURL = manifestFlag
		} else {
			cfg.ManifestPath = manifestFlag
		}
	}
	if audioDir, _ := cmd.Flags().GetString("audio-dir"); audioDir != "" {
		cfg.AudioDir = audioDir
	}

	if err := c.configManager.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	setupLogging(cfg, cmd.ErrOrStderr())
	return cfg, nil
}

// buildEngine assembles the audio engine from resolved configuration
func (c *CLI) buildEngine(cmd *cobra.Command, cfg *config.Config) (*engine.Engine, error) {
	if c.engine != nil {
		return c.engine, nil
	}

	silent, _ := cmd.Flags().GetBool("silent")

	codecs := codec.NewDefaultRegistry()
	detector := caps.NewDetector(codecs)
	detected := detector.Detect()

	backendType := cfg.AudioBackend
	if silent || !cfg.Enabled {
		slog.Debug("forcing null backend", "silent", silent, "enabled", cfg.Enabled)
		backendType = "null"
	}

	factory := backend.NewFactory(detected.SupportsAudioDevice, detected.RequiresGesture)
	b, err := factory.CreateBackend(backendType)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio backend: %w", err)
	}

	osFs := afero.NewOsFs()

	source, manifestPath, err := manifestSource(cfg)
	if err != nil {
		b.Close()
		return nil, err
	}

	var fetcher engine.Fetcher
	if cfg.ManifestURL != "" {
		fetcher = engine.NewHTTPFetcher(&http.Client{}, baseURL(cfg.ManifestURL))
	} else {
		audioDir := cfg.AudioDir
		if audioDir == "" {
			audioDir = filepath.Dir(manifestPath)
		}
		fetcher = engine.NewFileFetcher(osFs, audioDir)
	}

	eng, err := engine.New(engine.Config{
		Backend:  b,
		Manifest: manifest.NewLoader(source),
		Fetcher:  fetcher,
		Codecs:   codecs,
		Detector: detector,
		Store:    settings.NewXDGStore(osFs),
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	if volumeChanged := cmd.Flags().Changed("volume"); volumeChanged {
		eng.SetMasterVolume(cfg.Volume)
	}

	c.engine = eng
	c.initializeTracking(cfg)
	return eng, nil
}

// initializeTracking opens the diagnostics database when enabled
func (c *CLI) initializeTracking(cfg *config.Config) {
	trackingCfg := cfg.Tracking
	if trackingCfg == nil {
		trackingCfg = config.GetDefaultTrackingConfig()
	}
	trackingCfg = config.ApplyTrackingEnvironmentOverrides(trackingCfg)

	if !trackingCfg.Enabled {
		slog.Debug("tracking disabled by configuration")
		return
	}

	dbPath := trackingCfg.DatabasePath
	if dbPath == "" {
		resolved, err := tracking.GetDatabasePath()
		if err != nil {
			slog.Warn("failed to resolve tracking database path", "error", err)
			return
		}
		dbPath = resolved
	}

	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		// Tracking is best-effort; playback continues without it
		slog.Warn("failed to open tracking database", "path", dbPath, "error", err)
		return
	}

	c.trackingDB = db
	c.recorder = tracking.NewRecorder(db)
	c.recorder.Attach(c.engine.Bus())

	slog.Debug("tracking initialized", "path", dbPath, "session_id", c.recorder.SessionID())
}

// setupLogging configures slog with optional rotating file output
func setupLogging(cfg *config.Config, stderrWriter io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelWarn
	}

	writers := []io.Writer{stderrWriter}

	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		logFilePath := config.NewManager().ResolveLogFilePath(cfg.FileLogging.Filename)

		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			slog.Error("failed to create log directory", "path", logDir, "error", err)
		} else {
			writers = append(writers, &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    cfg.FileLogging.MaxSizeMB,
				MaxBackups: cfg.FileLogging.MaxBackups,
				MaxAge:     cfg.FileLogging.MaxAgeDays,
				Compress:   cfg.FileLogging.Compress,
			})
			slog.Debug("file logging enabled", "path", logFilePath)
		}
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	slog.Debug("logging setup completed",
		"level", level.String(),
		"writers", len(writers))
}

// manifestSource resolves the manifest location from configuration, falling
// back to a search of the XDG audio directories. The returned path is empty
// for URL-backed manifests.
func manifestSource(cfg *config.Config) (manifest.Source, string, error) {
	if cfg.ManifestURL != "" {
		return manifest.NewHTTPSource(nil, cfg.ManifestURL), "", nil
	}

	manifestPath := cfg.ManifestPath
	if manifestPath == "" {
		manifestPath = config.NewXDGDirs().FindManifest("")
		if manifestPath == "" {
			return nil, "", fmt.Errorf("no manifest configured and none found in XDG audio paths")
		}
	}
	return manifest.NewFileSource(afero.NewOsFs(), manifestPath), manifestPath, nil
}

func isURL(s string) bool {
	return len(s) > 7 && (s[:7] == "http://" || (len(s) > 8 && s[:8] == "https://"))
}

// baseURL strips the final path element so clip references resolve
// relative to the manifest location
func baseURL(manifestURL string) string {
	for i := len(manifestURL) - 1; i > 0; i-- {
		if manifestURL[i] == '/' {
			return manifestURL[:i]
		}
	}
	return manifestURL
}
