package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/fatrocu/internal/api"
	"github.com/kalambet/fatrocu/internal/config"
	"github.com/kalambet/fatrocu/internal/extract"
	"github.com/kalambet/fatrocu/internal/intake"
	"github.com/kalambet/fatrocu/internal/orchestrator"
	"github.com/kalambet/fatrocu/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fatrocu server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fatrocu server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fatrocu.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// newExtractor routes local formats itself and sends the rest to the model
// service. Without an API key only XML and manual jobs can succeed.
func newExtractor(cfg config.ExtractorConfig) extract.Extractor {
	var service extract.Extractor
	if cfg.APIKey != "" {
		service = extract.NewGemini(cfg.APIKey,
			extract.WithBaseURL(cfg.BaseURL),
			extract.WithModel(cfg.Model),
			extract.WithTemperature(cfg.Temperature),
		)
	}
	return extract.NewRouter(service)
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "fatrocu version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout belongs to the MCP transport when it is enabled.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	if cfg.Extractor.APIKey == "" {
		printWarning("%s", config.MissingAPIKeyHint())
		printWarning("Only XML and manual-entry documents will be processed.")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fatrocu is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("fatrocu is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	orch := orchestrator.New(orchestrator.Deps{
		Jobs:      store,
		Payloads:  store,
		Configs:   store,
		Extractor: newExtractor(cfg.Extractor),
		Intake:    intake.NewReader(cfg.Intake.MaxBytes()),
	},
		orchestrator.WithConcurrency(cfg.Queue.Concurrency),
		orchestrator.WithCooldown(cfg.Queue.Cooldown),
		orchestrator.WithLogger(logger),
	)
	loopDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(loopDone)
	}()

	report, err := orch.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}
	if len(report.Lost) > 0 {
		printWarning("%d job(s) lost their original file and need to be uploaded again", len(report.Lost))
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Orch:           orch,
			Token:          apiToken,
			MaxUploadBytes: 20 * cfg.Intake.MaxBytes(),
		}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Orch: orch, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fatrocu listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			stop()
			<-loopDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	<-loopDone
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fatrocu is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fatrocu (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fatrocu (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Extractor.APIKey != "" {
		printStatus("Extractor", "%s", cfg.Extractor.Model)
	} else {
		printStatus("Extractor", "no API key (XML and manual only)")
	}

	if running {
		if c, err := newAPIClient(); err == nil {
			c.httpClient = client
			printQueueStatus(ctx, c)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printQueueStatus(ctx context.Context, c *apiClient) {
	resp, err := c.get(ctx, "/queue")
	if err != nil {
		return
	}
	var st orchestrator.QueueStatus
	if err := decodeJSON(resp, &st); err != nil {
		return
	}
	printStatus("In flight", "%d of %d", len(st.InFlight), st.Concurrency)
	printStatus("Queued", "%d", len(st.Queued))
	if st.Paused && st.ResumeAt != nil {
		printStatus("Paused", "rate limited, resuming at %s", st.ResumeAt.Local().Format("15:04:05"))
	}
}
