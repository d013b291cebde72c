package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"musictransfer/internal/config"
	"musictransfer/internal/coordinator"
	"musictransfer/internal/logger"
	"musictransfer/internal/model"
	"musictransfer/internal/pipeline"
	"musictransfer/internal/progress"
	"musictransfer/internal/shutdown"
	"musictransfer/internal/transfer"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
	cfg := opts.cfg

	sh := shutdown.New()
	sh.Listen()
	defer sh.Wait()

	log := logger.New(cfg.Verbose)
	defer log.Close()

	if !cfg.Verbose {
		logDir := config.GetDefaultLogPath()
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Failed to create log directory: %v\n", err)
		} else {
			logFile := filepath.Join(logDir, fmt.Sprintf("musictransfer_%s.log", time.Now().Format("2006-01-02_15-04-05")))
			if err := log.SetFileLog(logFile); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Failed to setup file logging: %v\n", err)
			} else {
				log.Debug("Logging to file: %s", logFile)
			}
		}
	}

	if cfg.Verbose && opts.configPath != "" {
		log.Debug("Loaded configuration from: %s", opts.configPath)
	}

	if err := cfg.Validate(); err != nil {
		log.Error("Configuration error: %v", err)
		os.Exit(1)
	}

	if err := run(sh, opts, log); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(sh *shutdown.Handler, opts options, log *logger.Logger) error {
	cfg := opts.cfg
	roots := []string{cfg.Paths.Song, cfg.Paths.MV, cfg.Paths.Lyric, cfg.Paths.Cache}

	if n := shutdown.RemovePartials(log, transfer.SuffixDownload, roots...); n > 0 {
		log.Info("Removed %d unfinished files from an earlier run", n)
	}

	coord := coordinator.FromConfig(cfg, log)
	sh.AddCleanup(func() {
		log.Debug("Cancelling active transfers...")
		for _, id := range coord.Active() {
			coord.Cancel(id)
		}
	})
	defer coord.Wait()

	if opts.mvURL != "" {
		return runMV(sh.Context(), coord, opts, log)
	}

	var bar *progress.Bar
	if !cfg.Verbose {
		bar = progress.New(len(opts.songIDs))
		log.SetProgressBar(true)
	}
	hooks := pipeline.Hooks{
		OnModel: func(m *model.TransferModel) {
			if bar != nil {
				bar.Observe(m)
			}
		},
		OnProgress: func(o pipeline.Outcome) {
			if bar != nil {
				bar.Increment(o.Err != nil)
			}
		},
	}

	stats, err := pipeline.Run(sh.Context(), coord, opts.songIDs, pipeline.Options{
		Mode:     opts.mode,
		Cache:    opts.cache,
		Parallel: cfg.ParallelJobs,
	}, log, hooks)

	if bar != nil {
		bar.Finish()
		log.SetProgressBar(false)
	}

	if len(opts.songIDs) > 1 || stats.Failed > 0 {
		printSummary(stats)
	}
	if err != nil {
		return err
	}

	log.Info("=== Process completed successfully ===")
	return nil
}

// runMV downloads a single video and waits for it.
func runMV(ctx context.Context, coord *coordinator.Coordinator, opts options, log *logger.Logger) error {
	m := model.NewTransferModel(opts.songIDs[0])
	m.Apply(model.Metadata{SongName: opts.mvName, SongURL: opts.mvURL})

	var bar *progress.Bar
	if !opts.cfg.Verbose {
		bar = progress.New(1)
		bar.Observe(m)
		log.SetProgressBar(true)
	}

	result := make(chan error, 1)
	err := coord.DownloadMV(ctx, m, coordinator.CallbackFuncs{
		Second: func(model.Song) { result <- nil },
		Error:  func(_ model.Song, err error) { result <- err },
	})
	if err == nil {
		select {
		case err = <-result:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	if bar != nil {
		bar.Increment(err != nil)
		bar.Finish()
		log.SetProgressBar(false)
	}
	if err != nil {
		return fmt.Errorf("video download failed: %w", err)
	}

	log.Info("Saved video %s", color.Green.Sprint(opts.mvName))
	return nil
}

// printSummary renders one row per song of a batch.
func printSummary(stats pipeline.Stats) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Song ID", "Name", "State", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	table.AppendBulk(lo.Map(stats.Outcomes, func(o pipeline.Outcome, _ int) []string {
		state := color.Green.Sprint(o.State.String())
		detail := ""
		if o.Err != nil {
			state = color.Red.Sprint("failed")
			detail = o.Err.Error()
		}
		return []string{o.SongID, o.SongName, state, detail}
	}))
	table.Render()

	fmt.Printf("%s successful, %s failed\n",
		color.Green.Sprint(stats.Successful),
		color.Red.Sprint(stats.Failed))
}
