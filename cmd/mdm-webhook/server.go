package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/mdm-webhook/internal/ack"
	"github.com/tinytelemetry/mdm-webhook/internal/backup"
	"github.com/tinytelemetry/mdm-webhook/internal/httpserver"
	"github.com/tinytelemetry/mdm-webhook/internal/journal"
	"github.com/tinytelemetry/mdm-webhook/internal/logging"
	"github.com/tinytelemetry/mdm-webhook/internal/metrics"
	"github.com/tinytelemetry/mdm-webhook/internal/model"
	"github.com/tinytelemetry/mdm-webhook/internal/recorder"
	"golang.org/x/sync/errgroup"
)

// runServer wires the webhook components and serves until SIGINT/SIGTERM.
func runServer(cfg appConfig) error {
	gin.SetMode(gin.ReleaseMode)

	logger := logging.New(logging.Config{
		Debug:    cfg.Debug,
		FilePath: cfg.LogFile,
		Console:  os.Stdout,
	})
	defer logger.Close()

	results, err := journal.Open(cfg.ResultsLog)
	if err != nil {
		return fmt.Errorf("failed to open results log: %w", err)
	}
	defer results.Close()

	// Start periodic snapshots of the results log when enabled.
	backupManager, err := backup.NewManager(results, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	}, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := httpserver.NewServer(httpserver.Config{
		Addr:            addr,
		Service:         model.ServiceName,
		Version:         model.ServiceVersion,
		MaxBodyBytes:    cfg.MaxBodySize,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, httpserver.Deps{
		Recorder:   recorder.New(results, logger.Logger),
		Aggregator: metrics.NewAggregator(results, logger.Logger),
		Reporter:   ack.NewReporter(logger.Logger),
		Logger:     logger.Logger,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("starting webhook server",
		"addr", srv.Addr(),
		"log_file", logger.FilePath(),
		"results_log", results.Path(),
		"debug", cfg.Debug,
	)
	printStartupBanner(cfg, srv.Addr(), logger.FilePath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(cfg.ShutdownTimeout + 5*time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	g, gctx := errgroup.WithContext(ctx)

	// Serve loop watcher: an unexpected listener failure ends the process.
	g.Go(func() error {
		select {
		case <-srv.Done():
			if err := srv.Err(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down webhook server")
		return srv.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("server: errgroup exited with error", "error", err)
		return err
	}
	return nil
}

func printStartupBanner(cfg appConfig, addr, logFile string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	title := cyan.Bold(true).Render("    " + model.ServiceName)
	ver := dim.Render("v" + model.ServiceVersion + " (build " + version + ")")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, title)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Endpoints"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP           %s", check, cyan.Render(addr)))
	for _, route := range []string{"POST /webhook", "POST /command-result", "GET  /health", "GET  /metrics"} {
		lines = append(lines, fmt.Sprintf("    %s  %s", dot, dim.Render(route)))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Results Log    %s", check, dim.Render(shortenPath(cfg.ResultsLog))))
	if logFile != "" {
		lines = append(lines, fmt.Sprintf("    %s  Service Log    %s", check, dim.Render(shortenPath(logFile))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Service Log    %s", dot, dim.Render("console only")))
	}
	if cfg.BackupEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", check, dim.Render(shortenPath(cfg.BackupLocalDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"))
	lines = append(lines, "")
	if cfg.Debug {
		lines = append(lines, fmt.Sprintf("    %s  Debug          %s", check, yellow.Render("on")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Debug          %s", dot, dim.Render("off")))
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
