package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/storyrun/internal/ai"
	"github.com/v0xg/storyrun/internal/artifacts"
	"github.com/v0xg/storyrun/internal/auth"
	"github.com/v0xg/storyrun/internal/cache"
	"github.com/v0xg/storyrun/internal/config"
	"github.com/v0xg/storyrun/internal/crawler"
	"github.com/v0xg/storyrun/internal/executor"
	"github.com/v0xg/storyrun/internal/guard"
	"github.com/v0xg/storyrun/internal/observability"
	"github.com/v0xg/storyrun/internal/repair"
	"github.com/v0xg/storyrun/internal/resolver"
	"github.com/v0xg/storyrun/internal/storage"
)

var (
	configPath string
	story      string
	storyFile  string
	casesFile  string
	dryRun     bool
	headful    bool
	verbose    bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "storyrun",
		Short: "Turn a user story into UI tests and run them against a live app",
		Long: `storyrun asks a reasoning backend to convert a user story into test cases,
then runs them in Chromium with self-healing element resolution and a
Login.gov-style login flow.

Example:
  storyrun --base-url https://app.example.gov --story-file story.md --repair`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "Config file (default: ./storyrun.yaml if present)")
	f.String("base-url", "", "Base URL under test")
	f.StringVar(&story, "story", "", "Inline user story text")
	f.StringVar(&storyFile, "story-file", "", "Path to user story file (md/txt)")
	f.StringVar(&casesFile, "cases", "", "Run test cases from a JSON file instead of generating them")
	f.BoolVar(&dryRun, "dry-run", false, "Only generate tests, do not execute")
	f.String("provider", "", "Reasoning backend: bedrock, claude, openai, gemini")
	f.String("model", "", "Specific model override")
	f.String("region", "", "AWS region for bedrock")
	f.String("run-dir", "", "Parent directory for run output (default: data/runs)")
	f.String("cache", "", "Selector cache backend: json or badger")
	f.String("storage", "", "Artifact storage: local or s3")
	f.BoolVar(&headful, "headful", false, "Run browser headful for debugging")
	f.BoolVarP(&verbose, "verbose", "v", false, "Print prompts, responses and step logs")
	f.Bool("repair", false, "Enable agent-in-the-loop selector repair on failures")
	f.Bool("agent-verify", false, "Ask the agent to verify post-assert state to catch false positives")
	f.Bool("block-deep-links", false, "Remove and reject navigate steps below the site root")

	rootCmd.AddCommand(totpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if headful {
		cfg.Browser.Headless = false
	}

	runName := "run_" + time.Now().Format("20060102_150405")
	runDir := filepath.Join(cfg.RunsDir, runName)
	if err := os.MkdirAll(filepath.Join(runDir, "screenshots"), 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	logger := observability.NewLogger(observability.FromConfig(cfg.Log, runDir, verbose))
	defer func() { _ = logger.Sync() }()

	logVerbose("Starting storyrun")
	logVerbose("  Base URL: %s", cfg.BaseURL)
	logVerbose("  Run dir: %s", runDir)
	logVerbose("  Provider: %s", cfg.Provider.Name)

	blobs, err := openStorage(ctx, cfg, runDir, runName)
	if err != nil {
		return err
	}
	writer := artifacts.NewWriter(blobs, "screenshots")

	var provider ai.Provider
	if casesFile == "" || cfg.Repair.Enabled || cfg.Repair.AgentVerify {
		provider, err = ai.NewProvider(ctx, cfg.Provider.Name, cfg.Provider.Model, cfg.Provider.Region)
		if err != nil {
			return fmt.Errorf("AI provider init failed: %w", err)
		}
	}

	cases, err := loadCases(ctx, provider, cfg.BaseURL)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode test cases: %w", err)
	}
	loc, err := writer.File(ctx, "test_cases.json", data)
	if err != nil {
		return fmt.Errorf("failed to write test cases: %w", err)
	}
	fmt.Printf("→ Test cases written: %s\n", loc)

	if dryRun {
		fmt.Println("✅ Done. No tests executed (dry run).")
		return nil
	}

	report, err := runSuite(ctx, cfg, cases, provider, writer, logger)
	if err != nil {
		return err
	}

	data, err = json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	loc, err = writer.File(ctx, "results.json", data)
	if err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	fmt.Printf("→ Results written: %s\n", loc)

	total, failed := len(report.Tests), report.Failed()
	fmt.Printf("✅ Done. Total: %d, Passed: %d, Failed: %d\n", total, total-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d test(s) failed", failed, total)
	}
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, runDir, runName string) (storage.BlobStorage, error) {
	sc := storage.Config{
		Type:    cfg.Storage.Type,
		BaseDir: runDir,
		Bucket:  cfg.Storage.Bucket,
		Region:  cfg.Storage.Region,
		Prefix:  path.Join(cfg.Storage.Prefix, runName),
	}
	blobs, err := storage.NewBlobStorage(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	return blobs, nil
}

func loadCases(ctx context.Context, provider ai.Provider, baseURL string) ([]executor.TestCase, error) {
	if casesFile != "" {
		data, err := os.ReadFile(casesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read cases: %w", err)
		}
		cases, err := executor.ParseTestCases(data)
		if err != nil {
			return nil, err
		}
		fmt.Printf("→ Loaded %d test case(s) from %s\n", len(cases), casesFile)
		return cases, nil
	}

	text, err := readStory()
	if err != nil {
		return nil, err
	}

	fmt.Print("→ Generating test cases from user story... ")
	if verbose {
		fmt.Printf("\n%s\n", ai.BuildStoryPrompt(text, baseURL))
	}
	cases, err := ai.GenerateTestCases(ctx, provider, text, baseURL)
	if err != nil {
		fmt.Println("failed")
		return nil, fmt.Errorf("test generation failed: %w", err)
	}
	fmt.Printf("done (%d tests)\n", len(cases))
	return cases, nil
}

func readStory() (string, error) {
	if story != "" {
		return story, nil
	}
	if storyFile != "" {
		data, err := os.ReadFile(storyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read story: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("you must provide --story, --story-file or --cases")
}

func runSuite(ctx context.Context, cfg *config.Config, cases []executor.TestCase, provider ai.Provider, writer *artifacts.Writer, logger *zap.Logger) (executor.Report, error) {
	var hosts []string
	if len(cfg.Navigation.IdentityHosts) > 0 {
		hosts = cfg.Navigation.IdentityHosts
	}
	g, err := guard.New(cfg.BaseURL, hosts)
	if err != nil {
		return executor.Report{}, err
	}

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Path, logger.Named("cache"))
	if err != nil {
		return executor.Report{}, fmt.Errorf("selector cache: %w", err)
	}
	defer store.Close()

	overrides, err := resolver.LoadOverrides(cfg.Overrides.Path)
	if err != nil {
		logger.Warn("ignoring selector overrides", zap.String("path", cfg.Overrides.Path), zap.Error(err))
		overrides = resolver.NewTable("file:"+cfg.Overrides.Path, nil)
	}

	resOpts := []resolver.Option{resolver.WithLogger(logger.Named("resolver"))}
	if cfg.Repair.Enabled {
		resOpts = append(resOpts, resolver.WithRepairer(repair.NewHealer(provider,
			repair.WithArtifacts(writer),
			repair.WithMaxWidth(cfg.Screenshot.MaxWidth),
			repair.WithLogger(logger.Named("repair")))))
	}
	res := resolver.New(store, resolver.Overrides{resolver.BuiltinOverrides(), overrides}, resOpts...)

	fmt.Print("→ Launching browser... ")
	browser, err := crawler.Launch(ctx, crawler.Options{
		Width:      cfg.Browser.Width,
		Height:     cfg.Browser.Height,
		Headless:   cfg.Browser.Headless,
		Timeout:    cfg.Browser.Timeout,
		ProfileDir: cfg.Browser.ProfileDir,
		Guard:      g,
		Logger:     logger.Named("browser"),
	})
	if err != nil {
		fmt.Println("failed")
		return executor.Report{}, err
	}
	defer browser.Close()
	fmt.Println("done")

	execOpts := []executor.Option{
		executor.WithArtifacts(writer),
		executor.WithLogger(logger.Named("executor")),
		executor.WithAuthOptions(auth.WithTimings(auth.Timings{
			Action:         auth.DefaultTimings().Action,
			GrantWindow:    cfg.Auth.GrantWindow,
			RedirectWindow: cfg.Auth.RedirectWindow,
			PollInterval:   cfg.Auth.PollInterval,
			Cooldown:       cfg.Auth.Cooldown,
		})),
	}
	if cfg.Repair.AgentVerify {
		execOpts = append(execOpts, executor.WithVerifier(repair.NewVerifier(provider,
			repair.WithArtifacts(writer),
			repair.WithMaxWidth(cfg.Screenshot.MaxWidth),
			repair.WithLogger(logger.Named("verify")))))
	}

	ex := executor.New(browser.Page(), res, g, executor.Options{
		BaseURL:          cfg.BaseURL,
		BlockDeepLinks:   cfg.Navigation.BlockDeepLinks,
		ScreenshotDelay:  cfg.Screenshot.Delay(),
		Verbose:          verbose,
		IdentityProvider: cfg.Auth.Provider,
	}, execOpts...)

	fmt.Println("→ Running tests...")
	return ex.RunSuite(ctx, cases), nil
}

func logVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}
