package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schaermu/cachebust/internal/bust"
	"github.com/schaermu/cachebust/internal/config"
	"github.com/schaermu/cachebust/internal/deps"
	"github.com/schaermu/cachebust/internal/digest"
	"github.com/schaermu/cachebust/internal/rewrite"
	"github.com/schaermu/cachebust/internal/watch"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// hash flags
	outDir       string
	hashFile     string
	printMode    string
	dryRun       bool
	manifestPath string
	depfilePath  string

	// resolve flags
	assetsDir   string
	skipHashing bool

	// generate flags
	genRoot     string
	genPatterns []string
	genOutput   string
	genPackage  string

	// watch flags
	debounce time.Duration
)

// Values accepted by --print
const (
	printHash     = "hash"
	printFileName = "file-name"
	printFilePath = "file-path"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cachebust",
	Short: "Rename static assets to content-hashed file names",
	Long: `cachebust renames static assets so that their file names carry a SHA-256
digest of their content, e.g. css/app.css becomes css/app-<digest>.css.

Hashed names change whenever content changes, so assets can be served with
far-future cache headers. The same naming is available at build time through
the resolve and generate commands.`,
	SilenceUsage: true,
}

var hashCmd = &cobra.Command{
	Use:   "hash [source]",
	Short: "Hash every file in a directory, or a single file",
	Long: `Hash copies every regular file below the source directory into the out
directory under its hashed name, mirroring the directory layout. The out
directory is cleared first. Without --out files are renamed in place.

With --file only that file is hashed and the out directory is left as is.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHash,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <asset>...",
	Short: "Print the hashed path of logical asset paths",
	Long: `Resolve maps logical asset paths such as /css/app.css to their hashed form
using the assets directory of the project. Nothing on disk is modified.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a Go lookup table for referenced assets",
	Long: `Generate scans source and template files for Asset("...") and
{{ asset "..." }} references and writes a Go file mapping each referenced
path to its hashed path. Unknown assets fail the build step.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

var watchCmd = &cobra.Command{
	Use:   "watch [source]",
	Short: "Hash a directory and re-run on every change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "cachebust %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <project root>/cachebust.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Hash command flags
	hashCmd.Flags().StringVarP(&outDir, "out", "o", "", "directory receiving hashed copies (default: rename in place)")
	hashCmd.Flags().StringVarP(&hashFile, "file", "f", "", "hash only this file, relative to the source directory or absolute")
	hashCmd.Flags().StringVarP(&printMode, "print", "p", "", "print the result of --file (hash, file-name, file-path)")
	hashCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	hashCmd.Flags().StringVar(&manifestPath, "manifest", "", "write a JSON manifest of original to hashed paths")
	hashCmd.Flags().StringVar(&depfilePath, "depfile", "", "write a Make-style depfile listing every file read")

	// Resolve command flags
	resolveCmd.Flags().StringVar(&assetsDir, "assets-dir", "", "assets directory (default: $CACHEBUST_ASSETS_DIR or <project root>/assets)")
	resolveCmd.Flags().BoolVar(&skipHashing, "skip-hashing", false, "keep original names, still failing on missing assets")

	// Generate command flags
	generateCmd.Flags().StringVar(&assetsDir, "assets-dir", "", "assets directory (default: $CACHEBUST_ASSETS_DIR or <project root>/assets)")
	generateCmd.Flags().BoolVar(&skipHashing, "skip-hashing", false, "keep original names, still failing on missing assets")
	generateCmd.Flags().StringVar(&genRoot, "root", "", "directory scanned for references (default: project root)")
	generateCmd.Flags().StringSliceVar(&genPatterns, "pattern", nil, "glob selecting scanned files, repeatable (default **/*.go, **/*.html, **/*.tmpl)")
	generateCmd.Flags().StringVar(&genOutput, "output", "", "generated Go file (default: <root>/internal/assets/assets_gen.go)")
	generateCmd.Flags().StringVar(&genPackage, "package", "", "package name of the generated file (default: assets)")
	generateCmd.Flags().StringVar(&depfilePath, "depfile", "", "write a Make-style depfile listing every asset read")

	// Watch command flags
	watchCmd.Flags().StringVarP(&outDir, "out", "o", "", "directory receiving hashed copies")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before re-running (default 200ms)")
	watchCmd.Flags().StringVar(&manifestPath, "manifest", "", "write a JSON manifest after every run")

	// Add commands
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
	if printMode != "" {
		if hashFile == "" {
			return fmt.Errorf("--print requires --file")
		}
		switch printMode {
		case printHash, printFileName, printFilePath:
		default:
			return fmt.Errorf("invalid --print value %q (must be %s, %s or %s)", printMode, printHash, printFileName, printFilePath)
		}
	}

	logger := setupLogger()
	if printMode != "" {
		// stdout carries the result, keep the log quiet
		logger = newLogger(cmd.ErrOrStderr(), "error", logFormat)
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	settings, err := hashSettings(cfg, args, false)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	manifest := firstNonEmpty(manifestPath, cfg.Manifest)
	depfile := firstNonEmpty(depfilePath, cfg.Depfile)

	var tracker deps.Tracker = deps.Nop{}
	recorder := deps.NewRecorder()
	if depfile != "" {
		tracker = recorder
	}

	engine := bust.NewEngine(settings, tracker, logger, dryRun)

	var target string
	if hashFile != "" {
		path, err := engine.HashFile(hashFile)
		if err != nil {
			logger.Error("hashing failed", "error", err)
			return err
		}
		target = path

		if err := printResult(cmd.OutOrStdout(), path); err != nil {
			return err
		}
	} else {
		report, err := engine.HashDir()
		if err != nil {
			logger.Error("hashing failed", "error", err)
			return err
		}
		target = report.DestDir

		if manifest != "" && !dryRun {
			if err := report.WriteManifest(manifest); err != nil {
				return fmt.Errorf("failed to write manifest: %w", err)
			}
			logger.Info("manifest written", "path", manifest)
			target = manifest
		}
	}

	if depfile != "" && !dryRun {
		if err := recorder.SaveDepfile(depfile, target); err != nil {
			return fmt.Errorf("failed to write depfile: %w", err)
		}
	}

	return nil
}

// printResult writes the part of a hashed path selected by --print
func printResult(w io.Writer, path string) error {
	var line string
	switch printMode {
	case printHash:
		parts, _ := digest.Parse(filepath.Base(path))
		line = parts.Digest
	case printFileName:
		line = filepath.Base(path)
	case printFilePath:
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		line = abs
	default:
		return nil
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// hashSettings merges flags, positional arguments and the config file into
// validated settings. Flags win over the config file.
func hashSettings(cfg *config.File, args []string, requireOut bool) (*config.Settings, error) {
	opts := config.Options{
		SourceDir: cfg.Source,
		OutDir:    firstNonEmpty(outDir, cfg.Out),
		InPlace:   cfg.InPlace,
	}
	if len(args) > 0 {
		opts.SourceDir = args[0]
	}
	if opts.OutDir == "" && !requireOut {
		opts.InPlace = true
	}

	settings, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	if requireOut && settings.Mode != config.ModeCopy {
		return nil, &config.Error{Kind: config.ErrOutNotSet}
	}
	return settings, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rewriter, err := newRewriter(cfg, nil)
	if err != nil {
		logger.Error("failed to set up rewriter", "error", err)
		return err
	}

	for _, asset := range args {
		hashed, err := rewriter.Rewrite(asset)
		if err != nil {
			logger.Error("resolve failed", "error", err)
			return err
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), hashed); err != nil {
			return err
		}
	}

	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	genCfg := cfg.Generate
	if genRoot != "" {
		if genCfg.Root, err = filepath.Abs(genRoot); err != nil {
			return err
		}
	}
	if genCfg.Root == "" {
		if genCfg.Root, err = projectRoot(); err != nil {
			return err
		}
	}
	if len(genPatterns) > 0 {
		genCfg.Patterns = genPatterns
	}
	if genOutput != "" {
		if genCfg.Output, err = filepath.Abs(genOutput); err != nil {
			return err
		}
	}
	if genCfg.Output == "" {
		genCfg.Output = filepath.Join(genCfg.Root, "internal", "assets", "assets_gen.go")
	}
	if genPackage != "" {
		genCfg.Package = genPackage
	}

	// Flag values bypass config.Load, validate them the same way
	check := config.File{Generate: genCfg}
	if err := check.Validate(); err != nil {
		return err
	}

	depfile := firstNonEmpty(depfilePath, cfg.Depfile)
	recorder := deps.NewRecorder()
	var tracker deps.Tracker = deps.Nop{}
	if depfile != "" {
		tracker = recorder
	}

	rewriter, err := newRewriter(cfg, tracker)
	if err != nil {
		logger.Error("failed to set up rewriter", "error", err)
		return err
	}

	logger.Info("generating asset table",
		"root", genCfg.Root,
		"assets_dir", rewriter.AssetsDir(),
		"output", genCfg.Output)

	if err := rewrite.NewGenerator(rewriter, genCfg).WriteFile(); err != nil {
		logger.Error("generate failed", "error", err)
		return err
	}

	if depfile != "" {
		if err := recorder.SaveDepfile(depfile, genCfg.Output); err != nil {
			return fmt.Errorf("failed to write depfile: %w", err)
		}
	}

	logger.Info("asset table written", "path", genCfg.Output)
	return nil
}

// newRewriter builds a rewriter from flags, the config file and the environment
func newRewriter(cfg *config.File, tracker deps.Tracker) (*rewrite.Rewriter, error) {
	env := loadEnv()

	dir := assetsDir
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		dir = abs
	}
	if dir == "" {
		dir = cfg.AssetsDir
	}
	if dir == "" {
		if override, ok := env.Get(config.EnvAssetsDir); ok && filepath.IsAbs(override) {
			dir = override
		} else {
			root, err := projectRoot()
			if err != nil {
				return nil, err
			}
			dir = env.AssetsDir(root)
		}
	}

	skip := skipHashing || cfg.SkipHashing || env.SkipHashing()
	return rewrite.New(dir, skip, tracker)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	settings, err := hashSettings(cfg, args, true)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	manifest := firstNonEmpty(manifestPath, cfg.Manifest)
	if manifest != "" {
		// Writing it would trigger the next run
		if err := settings.CheckOutput(manifest); err != nil {
			logger.Error("invalid configuration", "error", err)
			return err
		}
	}
	engine := bust.NewEngine(settings, nil, logger, false)

	run := func() error {
		report, err := engine.HashDir()
		if err != nil {
			return err
		}
		if manifest != "" {
			return report.WriteManifest(manifest)
		}
		return nil
	}

	if err := run(); err != nil {
		logger.Error("initial run failed", "error", err)
		return err
	}

	wait := cfg.Watch.Debounce
	if debounce > 0 {
		wait = debounce
	}

	return watch.Run(ctx, watch.Config{
		SourceDir: settings.SourceDir,
		IgnoreDir: settings.OutDir,
		Debounce:  wait,
		Logger:    logger,
		OnChange: func(_ context.Context, changed []string) error {
			logger.Info("re-running", "changed", len(changed))
			return run()
		},
	})
}

func setupLogger() *slog.Logger {
	return newLogger(os.Stderr, logLevel, logFormat)
}

func newLogger(w io.Writer, levelName, format string) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// loadConfig loads --config, or cachebust.yaml from the project root when
// present. Without a config file the defaults are returned.
func loadConfig(logger *slog.Logger) (*config.File, error) {
	configPath := cfgFile
	if configPath == "" {
		root, err := projectRoot()
		if err != nil {
			logger.Debug("no project root, using defaults", "error", err)
			return defaultConfig(), nil
		}
		configPath = filepath.Join(root, config.FileName)
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no config file, using defaults", "path", configPath)
			return defaultConfig(), nil
		}
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"source", cfg.Source,
		"out", cfg.Out,
		"in_place", cfg.InPlace,
		"assets_dir", cfg.AssetsDir)

	return cfg, nil
}

func defaultConfig() *config.File {
	cfg := &config.File{}
	cfg.ApplyDefaults()
	return cfg
}

func projectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.ProjectRoot(os.LookupEnv, cwd)
}

// loadEnv layers the process environment over <project root>/.env
func loadEnv() *config.Env {
	root, err := projectRoot()
	if err != nil {
		return config.NewEnv(os.LookupEnv, nil)
	}
	env, err := config.LoadEnv(os.LookupEnv, filepath.Join(root, ".env"))
	if err != nil {
		slog.Warn("ignoring unreadable .env file", "error", err)
		return config.NewEnv(os.LookupEnv, nil)
	}
	return env
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
