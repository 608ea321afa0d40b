// Command narrata plays a narrated voice clip with live word highlighting and
// an optional looping background, controlled over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/narrata/internal/app"
	"github.com/MrWong99/narrata/internal/config"
	"github.com/MrWong99/narrata/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	audioPath := flag.String("audio", "", "voice clip to narrate (wav or mp3)")
	scriptPath := flag.String("script", "", "text file with the script spoken in -audio")
	backgroundID := flag.String("background", "", "background track id to start with")
	autoplay := flag.Bool("autoplay", false, "start playback immediately instead of waiting for a play command")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "narrata: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "narrata: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("narrata starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		SampleRate: cfg.Audio.SampleRate,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLogLevel(level),
		app.WithMetricsHandler(telemetry.Handler()),
	}
	if *configPath != "" {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *audioPath != "" {
		script, err := readScript(*scriptPath)
		if err != nil {
			slog.Error("failed to read script", "err", err)
			return 1
		}
		if err := application.Prepare(*audioPath, script); err != nil {
			slog.Error("failed to prepare session", "err", err)
			return 1
		}
	}

	printStartupSummary(cfg, *audioPath)

	if *backgroundID != "" {
		if err := application.StartBackground(ctx, *backgroundID); err != nil {
			slog.Warn("background not started", "id", *backgroundID, "err", err)
		}
	}
	if *autoplay {
		if err := application.Play(ctx); err != nil {
			slog.Warn("autoplay failed; waiting for a play command", "err", err)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("stopping…")
	code := 0
	if runErr != nil {
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	return code
}

// loadConfig loads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return config.Load(path)
}

func readScript(path string) (string, error) {
	if path == "" {
		return "", errors.New("-script is required with -audio")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, audioPath string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        narrata startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Lead time", cfg.Playback.LeadTime.String())
	printRow("Rate bounds", fmt.Sprintf("%.2f to %.2f", cfg.Playback.MinRate, cfg.Playback.MaxRate))
	if audioPath == "" {
		audioPath = "(none)"
	}
	printRow("Voice clip", audioPath)
	printRow("Bg tracks", fmt.Sprintf("%d", len(cfg.Background.Tracks)))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
