// ABOUTME: Entry point for the trestle-gateway server
// ABOUTME: Fronts an upstream model server with transactional edit coordination

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/trestle-gateway/internal/config"
	"github.com/2389/trestle-gateway/internal/gateway"
)

// version is reported in the startup banner; it defaults to "dev".
var version = "dev"

const banner = `
  _                 _   _
 | |_ _ __ ___  ___| |_| | ___
 | __| '__/ _ \/ __| __| |/ _ \
 | |_| | |  __/\__ \ |_| |  __/
  \__|_|  \___||___/\__|_|\___|
`

// getConfigPath returns the path to the gateway config file.
// Priority: TRESTLE_CONFIG env var > XDG_CONFIG_HOME/trestle/gateway.yaml > ~/.config/trestle/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TRESTLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "trestle", "gateway.yaml")
}

// loadConfig reads the config file, falling back to defaults when none exists.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), configPath + " (not found, using defaults)", nil
		}
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: trestle-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the gateway server")
		fmt.Println("  health  Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Upstream: http://%s:%d/%s/v%d\n",
		cfg.Upstream.Hostname, cfg.Upstream.Port,
		strings.Trim(cfg.Upstream.BasePath, "/"), cfg.Upstream.APIVersion)
	fmt.Println()

	logger.Info("starting trestle-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"upstream", cfg.Upstream.Hostname,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = newTextHandler(level)
	}

	return slog.New(handler)
}

// textHandler renders compact colorized log lines on stdout.
type textHandler struct {
	out  *sync.Mutex
	min  slog.Level
	base []slog.Attr
}

func newTextHandler(min slog.Level) *textHandler {
	return &textHandler{out: &sync.Mutex{}, min: min}
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint("ERROR")
	case l >= slog.LevelWarn:
		return color.YellowString(" WARN")
	case l >= slog.LevelInfo:
		return color.CyanString(" INFO")
	default:
		return color.MagentaString("DEBUG")
	}
}

func renderAttr(a slog.Attr) string {
	return color.HiBlackString(a.Key+"=") + a.Value.String()
}

func (h *textHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.min
}

func (h *textHandler) Handle(_ context.Context, rec slog.Record) error {
	parts := make([]string, 0, 3+len(h.base)+rec.NumAttrs())
	parts = append(parts,
		color.HiBlackString(rec.Time.Format(time.TimeOnly)),
		levelTag(rec.Level),
		rec.Message,
	)
	for _, a := range h.base {
		parts = append(parts, renderAttr(a))
	}
	rec.Attrs(func(a slog.Attr) bool {
		parts = append(parts, renderAttr(a))
		return true
	})

	h.out.Lock()
	defer h.out.Unlock()
	_, err := fmt.Fprintln(os.Stdout, strings.Join(parts, " "))
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := *h
	child.base = append(append([]slog.Attr(nil), h.base...), attrs...)
	return &child
}

func (h *textHandler) WithGroup(string) slog.Handler {
	// Attr keys already carry enough context; groups are not nested.
	return h
}
