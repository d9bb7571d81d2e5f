package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/config"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/handlers"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitor"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/poller"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type cliOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:          "bulkmon",
		Short:        "Monitor bulk SMS send jobs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "optional YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCommand(opts),
		newWatchCommand(opts),
		newSendCommand(opts),
		newStopCommand(opts),
		newImportsCommand(opts),
	)
	return root
}

// load resolves the configuration, initializes the logger and builds services
func (o *cliOptions) load() (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		if _, err := logrus.ParseLevel(o.logLevel); err != nil {
			return nil, fmt.Errorf("invalid log level %q", o.logLevel)
		}
		cfg.LogLevel = o.logLevel
	}

	middleware.InitLogger(cfg.LogLevel)

	services, err := config.NewServices(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return &config.AppConfig{Config: cfg, Services: services}, nil
}

// loadClient loads the application and returns its messaging API client
func (o *cliOptions) loadClient() (*config.AppConfig, handlers.BulkAPI, error) {
	appConfig, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	apiClient, err := appConfig.Services.Container.GetClient()
	if err != nil {
		appConfig.Services.Close()
		return nil, nil, err
	}
	return appConfig, apiClient, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := opts.load()
			if err != nil {
				return err
			}
			defer appConfig.Services.Close()

			return runServer(cmd.Context(), appConfig)
		},
	}
}

func newWatchCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <jobID>",
		Short: "Render the progress of a bulk job until it completes",
		Long: "Polls the progress of a bulk job and renders it in the terminal. " +
			"Exits with status 0 when the job completes and 1 when polling fails.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, api, err := opts.loadClient()
			if err != nil {
				return err
			}
			defer appConfig.Services.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			monitorOpts := appConfig.Config.MonitorOptions(appConfig.Services.Logger)
			return runWatch(ctx, cmd.OutOrStdout(), api, args[0], monitorOpts)
		},
	}
}

// runWatch monitors jobID in the terminal and reports how monitoring ended
func runWatch(ctx context.Context, out io.Writer, fetcher poller.Fetcher, jobID string, opts monitor.Options) error {
	opts.Renderer = monitor.NewTerminalRenderer(out)

	var pollErr error
	opts.OnError = func(_ string, err error) {
		pollErr = err
	}

	m := monitor.New(fetcher, jobID, opts)
	m.Start(ctx)
	<-m.Done()

	state := m.State()
	switch state.Status {
	case monitor.StatusCompleted:
		return nil
	case monitor.StatusFailed:
		if pollErr != nil {
			return fmt.Errorf("monitoring job %s failed: %w", jobID, pollErr)
		}
		return fmt.Errorf("monitoring job %s failed: %s", jobID, state.LastError)
	default:
		return fmt.Errorf("monitoring job %s interrupted", jobID)
	}
}

func newSendCommand(opts *cliOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "send <jobID>",
		Short: "Start sending a bulk job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, api, err := opts.loadClient()
			if err != nil {
				return err
			}
			defer appConfig.Services.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if err := runControl(ctx, cmd.OutOrStdout(), api.SendBulk, args[0]); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			monitorOpts := appConfig.Config.MonitorOptions(appConfig.Services.Logger)
			return runWatch(ctx, cmd.OutOrStdout(), api, args[0], monitorOpts)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch the job after it starts")
	return cmd
}

func newStopCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <jobID>",
		Short: "Stop sending a bulk job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, api, err := opts.loadClient()
			if err != nil {
				return err
			}
			defer appConfig.Services.Close()

			return runControl(cmd.Context(), cmd.OutOrStdout(), api.StopBulk, args[0])
		},
	}
}

// runControl calls a job control endpoint and prints its answer. A refused
// request is an error.
func runControl(ctx context.Context, out io.Writer, call func(context.Context, string) (*types.ControlResult, error), jobID string) error {
	result, err := call(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s: %s\n", jobID, result.Message)
	if !result.Success {
		return fmt.Errorf("request for job %s was refused", jobID)
	}
	return nil
}

func newImportsCommand(opts *cliOptions) *cobra.Command {
	var (
		page  int
		size  int
		sort  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "imports",
		Short: "List the contact import history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, api, err := opts.loadClient()
			if err != nil {
				return err
			}
			defer appConfig.Services.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			req := types.PageRequest{Page: page, Size: size, Sort: sort}
			return runImports(ctx, cmd.OutOrStdout(), api, req, watch, appConfig.Config.Polling.Interval, appConfig.Services.Logger)
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page number")
	cmd.Flags().IntVar(&size, "size", 20, "page size")
	cmd.Flags().StringVar(&sort, "sort", "", "sort expression, e.g. createdDate,desc")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll the imports that are still in progress")
	return cmd
}

// runImports prints a page of import history and, with watch, polls the
// progress of every import on the page that has not settled
func runImports(ctx context.Context, out io.Writer, api handlers.BulkAPI, page types.PageRequest, watch bool, interval time.Duration, logger *logrus.Logger) error {
	result, err := api.ListImportHistory(ctx, page)
	if err != nil {
		return fmt.Errorf("failed to list import history: %w", err)
	}
	printImports(out, result)

	if !watch {
		return nil
	}

	var pending []string
	for _, entry := range result.Items {
		if !entry.Status.IsTerminal() {
			pending = append(pending, entry.BulkID)
		}
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "No import in progress")
		return nil
	}

	return watchBulks(ctx, out, api, pending, interval, logger)
}

// watchBulks polls every distinct bulk id concurrently until each one
// completes or fails
func watchBulks(ctx context.Context, out io.Writer, fetcher poller.Fetcher, bulkIDs []string, interval time.Duration, logger *logrus.Logger) error {
	bulkIDs = uniqueIDs(bulkIDs)
	if len(bulkIDs) == 0 {
		return nil
	}

	group := poller.NewGroup(ctx, fetcher, interval, logger)
	defer group.StopAll()

	var (
		mu        sync.Mutex
		remaining = int32(len(bulkIDs))
		failed    int32
		finished  = make(chan struct{})
	)
	settle := func() {
		if atomic.AddInt32(&remaining, -1) == 0 {
			close(finished)
		}
	}

	for _, id := range bulkIDs {
		bulkID := id
		watched := group.Watch(bulkID, func(s types.ProgressSnapshot) {
			mu.Lock()
			fmt.Fprintln(out, progressLine(bulkID, s))
			mu.Unlock()

			if !s.HasError() && !s.IsComplete() {
				return
			}
			if s.HasError() {
				atomic.AddInt32(&failed, 1)
			}
			group.Unwatch(bulkID)
			settle()
		})
		if !watched {
			logger.WithField("bulk_id", bulkID).Warn("Bulk is already being watched")
			settle()
		}
	}

	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("watching imports interrupted: %w", ctx.Err())
	}

	if n := atomic.LoadInt32(&failed); n > 0 {
		return fmt.Errorf("%d of %d imports could not be polled", n, len(bulkIDs))
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func progressLine(bulkID string, s types.ProgressSnapshot) string {
	if s.HasError() {
		return fmt.Sprintf("[bulk %s] error: %s", bulkID, s.Error)
	}
	line := fmt.Sprintf("[bulk %s] %d/%d inserted, %d sent, %d failed, %s, ETA %s",
		bulkID, s.Stats.Inserted, s.TotalRecipients, s.Stats.Sent, s.Stats.Failed,
		utils.FormatRate(s.CurrentRate), utils.FormatETA(s.EtaSendSeconds))
	if s.IsComplete() {
		line += " (complete)"
	}
	return line
}

func printImports(out io.Writer, page *types.ImportHistoryPage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BULK ID\tFILE\tSTATUS\tLINES\tINSERTED\tDUPLICATES\tERRORS\tCREATED")
	for _, e := range page.Items {
		created := "-"
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			e.BulkID, e.FileName, e.Status, e.TotalLines, e.InsertedCount, e.DuplicateCount, e.ErrorCount, created)
	}
	w.Flush()
	fmt.Fprintf(out, "Page %d: %d of %d imports\n", page.Page, len(page.Items), page.TotalCount)
}
