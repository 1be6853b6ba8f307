package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	_ "github.com/joho/godotenv/autoload"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/snapread/internal/analysis"
	"github.com/zombor/snapread/internal/document"
	"github.com/zombor/snapread/internal/quota"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	Port        int
	DBPath      string
	Backend     string
	StoragePath string
	Analyzer    string
	MockDelay   time.Duration
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
	AuthUser    string
	AuthPass    string
}

func (c config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DBPath, validation.Required),
		validation.Field(&c.Backend, validation.Required,
			validation.In(string(document.BackendBolt), string(document.BackendSQLite))),
		validation.Field(&c.StoragePath, validation.Required),
		validation.Field(&c.Analyzer, validation.Required, validation.In("mock", "gemini", "ollama")),
		validation.Field(&c.MockDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.GeminiKey, validation.When(c.Analyzer == "gemini",
			validation.Required.Error("is required; set --gemini-key or GEMINI_API_KEY"))),
		validation.Field(&c.OllamaURL, validation.When(c.Analyzer == "ollama", validation.Required)),
	)
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("snapread")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "snapread.db", "Database file path")
		backend     = fs.StringLong("backend", string(document.BackendBolt), "Storage strategy: 'bolt' or 'sqlite'")
		storagePath = fs.StringLong("storage", "./images", "Directory for captured images")
		analyzer    = fs.StringLong("analyzer", "mock", "Analysis gateway: 'mock', 'gemini' or 'ollama'")
		mockDelay   = fs.DurationLong("mock-delay", 0, "Simulated latency for each mock analysis stage")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", analysis.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", analysis.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", analysis.DefaultOllamaModel, "Ollama vision model name")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		_           = fs.StringLong("config", "", "Config file in flag-per-line format (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SNAPREAD"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config{
		Port:        *port,
		DBPath:      *dbPath,
		Backend:     *backend,
		StoragePath: *storagePath,
		Analyzer:    *analyzer,
		MockDelay:   *mockDelay,
		GeminiKey:   *geminiKey,
		GeminiModel: *geminiModel,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
		AuthUser:    *authUser,
		AuthPass:    *authPass,
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing database...", "backend", cfg.Backend, "path", cfg.DBPath)
	store, err := document.NewStore(document.Backend(cfg.Backend), cfg.DBPath)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	slog.Info("Initializing storage...", "path", cfg.StoragePath)
	images, err := document.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	gateway, err := newGateway(cfg, images)
	if err != nil {
		return err
	}
	defer gateway.Close()

	service := document.NewService(store, gateway, images, quota.NewTracker(store))
	server := document.NewServer(service, document.BasicAuth{
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
	})
	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, addr)
	})
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Shut down cleanly")
	return nil
}

func newGateway(cfg config, images analysis.ImageSource) (analysis.Gateway, error) {
	switch cfg.Analyzer {
	case "gemini":
		slog.Info("Initializing Gemini analyzer...", "model", cfg.GeminiModel)
		gateway, err := analysis.NewGemini(cfg.GeminiKey, cfg.GeminiModel, images)
		if err != nil {
			return nil, fmt.Errorf("initializing Gemini: %w", err)
		}
		return gateway, nil
	case "ollama":
		slog.Info("Initializing Ollama analyzer...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		gateway, err := analysis.NewOllama(cfg.OllamaURL, cfg.OllamaModel, images)
		if err != nil {
			return nil, fmt.Errorf("initializing Ollama: %w", err)
		}
		return gateway, nil
	default:
		slog.Info("Initializing mock analyzer...", "delay", cfg.MockDelay)
		return analysis.NewMock(analysis.MockOptions{
			ExtractDelay: cfg.MockDelay,
			AnalyzeDelay: cfg.MockDelay,
		}), nil
	}
}
