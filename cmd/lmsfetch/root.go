package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"lmsfetch/pkg/config"
	"lmsfetch/pkg/content"
	"lmsfetch/pkg/db"
	"lmsfetch/pkg/httpclient"
	"lmsfetch/pkg/logger"
	"lmsfetch/pkg/prompt"
	"lmsfetch/pkg/renderer/chrome"
	"lmsfetch/pkg/renderer/static"
	"lmsfetch/pkg/session"
	"lmsfetch/pkg/transfer"
)

type options struct {
	configPath  string
	course      int
	renderer    string
	headless    bool
	downloadDir string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "lmsfetch",
		Short: "Download new course materials from the LMS portal",
		Long: `Logs in to the LMS portal, lists your courses and downloads the
materials of the selected course. Files already recorded in the ledger
are skipped, so the command can be re-run safely.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	flags.IntVar(&opts.course, "course", 0, "1-based course number to download without prompting")
	flags.StringVar(&opts.renderer, "renderer", config.RendererHTTP, "page renderer: http or chrome")
	flags.BoolVar(&opts.headless, "headless", true, "run Chrome without a window (chrome renderer only)")
	flags.StringVarP(&opts.downloadDir, "download-dir", "d", "", "directory course folders are created in")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print debug output to stderr")

	return cmd
}

// loadConfig layers flags that were set explicitly over the file and environment
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("course") {
		cfg.Course = opts.course
	}
	if flags.Changed("renderer") {
		cfg.Renderer = opts.renderer
	}
	if flags.Changed("headless") {
		cfg.Headless = opts.headless
	}
	if flags.Changed("download-dir") {
		cfg.DownloadDir = opts.downloadDir
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	logger.SetVerbose(opts.verbose)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lines := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout())
	if cfg.Password == "" {
		password, err := lines.AskSecret(ctx, "Password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		cfg.Password = password
	}

	client := httpclient.NewClient(httpclient.Options{
		HeaderTimeout: cfg.Transfer.AttemptTimeout.Std(),
	})

	renderer, err := newRenderer(cfg, client)
	if err != nil {
		return err
	}

	deps := session.Deps{
		Renderer: renderer,
		Prompter: lines,
		Fetcher:  newFetcher(cfg, client),
		Out:      cmd.OutOrStdout(),
	}
	if cfg.Renderer == config.RendererChrome {
		deps.Cookies = client
	}

	catalog, err := db.Open(ctx, cfg.Catalog)
	if err != nil {
		log.Printf("Catalog: Continuing without catalog: %v", err)
	} else if catalog != nil {
		deps.Catalog = catalog
		defer closeCatalog(catalog)
	}

	start := time.Now()
	orchestrator := session.New(cfg, deps)
	report, err := orchestrator.Run(ctx)
	logger.Info("run %s finished in %s: state=%s found=%d downloaded=%d skipped=%d failed=%d",
		orchestrator.RunID(), time.Since(start).Round(time.Millisecond), report.State,
		report.Found, report.Downloaded, report.Skipped, report.Failed)
	return err
}

func newRenderer(cfg config.Config, client *httpclient.HTTPClient) (session.Renderer, error) {
	switch cfg.Renderer {
	case config.RendererChrome:
		r, err := chrome.New(chrome.Options{
			Headless:   cfg.Headless,
			NavTimeout: cfg.NavTimeout.Std(),
			ExecPath:   cfg.ChromePath,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return static.New(client, cfg.NavTimeout.Std()), nil
	}
}

func newFetcher(cfg config.Config, client transfer.Doer) *transfer.Fetcher {
	var fetchOpts []transfer.Option
	if cfg.Transfer.RateLimit > 0 {
		fetchOpts = append(fetchOpts, transfer.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Transfer.RateLimit), 1)))
	}
	if cfg.Transfer.VerifyPDF {
		fetchOpts = append(fetchOpts, transfer.WithVerifier(verifyPDFFiles))
	}

	return transfer.New(client, transfer.Config{
		MaxAttempts:    cfg.Transfer.MaxAttempts,
		AttemptTimeout: cfg.Transfer.AttemptTimeout.Std(),
		BackoffStep:    cfg.Transfer.BackoffStep.Std(),
	}, fetchOpts...)
}

// verifyPDFFiles checks .pdf files and accepts everything else
func verifyPDFFiles(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil
	}
	return content.VerifyPDF(path)
}

func closeCatalog(catalog db.Catalog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := catalog.Close(ctx); err != nil {
		log.Printf("Catalog: Failed to close: %v", err)
	}
}
