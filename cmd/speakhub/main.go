package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/speakhub/internal/handler"
	appI18n "github.com/pavelanni/speakhub/internal/i18n"
	"github.com/pavelanni/speakhub/internal/kv"
	"github.com/pavelanni/speakhub/internal/llm"
	"github.com/pavelanni/speakhub/internal/model"
	"github.com/pavelanni/speakhub/internal/service"
	"github.com/pavelanni/speakhub/internal/store"
)

// envAliases lists the unprefixed variable names also honored for a flag,
// in order of preference after SPEAKHUB_<FLAG>.
var envAliases = map[string][]string{
	"llm-key":   {"OPENAI_API_KEY", "VITE_OPENAI_API_KEY"},
	"llm-model": {"OPENAI_MODEL"},
	"kv-url":    {"KV_REST_API_URL"},
	"kv-token":  {"KV_REST_API_TOKEN"},
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "speakhub",
		Short: "Classroom speaking practice coordinator",
	}

	serve := serveCmd()
	root.AddCommand(serve, generateCmd(), kvCheckCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `speakhub --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addKVFlags(f *pflag.FlagSet) {
	f.String("kv-url", "memory://", "Session store URL (memory://, redis://, sqlite://<path>, https://<rest endpoint>)")
	f.String("kv-token", "", "Bearer token for a REST session store")
	f.Duration("kv-timeout", 10*time.Second, "Timeout for REST session store calls")
}

func addLLMFlags(f *pflag.FlagSet) {
	defaults := llm.DefaultConfig()
	f.String("llm-url", defaults.BaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (or set OPENAI_API_KEY)")
	f.String("llm-model", defaults.Model, "LLM model name")
	f.Float32("llm-temperature", defaults.Temperature, "Sampling temperature")
	f.Int("llm-max-tokens", defaults.MaxTokens, "Maximum tokens per completion")
	f.Duration("llm-timeout", defaults.Timeout, "Timeout for one generation request")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP session server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("api-prefix", "/api", "URL prefix for the API routes")
	addKVFlags(f)
	f.String("consistency", "rmw", "Session update mode: rmw (plain read-modify-write) or cas (compare-and-swap)")
	f.Int("cas-retries", store.DefaultMaxRetries, "Attempts per update in cas mode before reporting a conflict")
	addLLMFlags(f)
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	f.Int("generate-per-minute", 0, "Question generation requests allowed per client per minute (0 = no limit)")
	f.Int("generate-burst", 5, "Burst size for question generation requests")
	f.Duration("request-timeout", 90*time.Second, "Per-request handling timeout")
	f.Duration("shutdown-timeout", 5*time.Second, "Grace period for in-flight requests on shutdown")
	addLogFlags(f)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate discussion questions and print them as JSON",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.StringP("topic", "t", "", "Conversation topic")
	f.String("level", "", "Learner level (e.g. A2, B1)")
	f.IntP("count", "n", 0, "Number of questions (1-10, default 5)")
	f.String("must-include", "", "Words or structures the questions must use")
	f.String("avoid", "", "Words or themes to avoid")
	f.StringSlice("grammar-focus", nil, "Grammar structures to practise (repeatable)")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func kvCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv-check",
		Short: "Write and read back a probe record in the session store",
		RunE:  runKVCheck,
	}
	addKVFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SPEAKHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for flag, names := range envAliases {
		prefixed := "SPEAKHUB_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
		_ = v.BindEnv(append([]string{flag, prefixed}, names...)...)
	}

	v.SetConfigName("speakhub")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/speakhub")
	v.AddConfigPath("/etc/speakhub")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func llmConfig(v *viper.Viper) llm.Config {
	return llm.Config{
		BaseURL:     v.GetString("llm-url"),
		APIKey:      v.GetString("llm-key"),
		Model:       v.GetString("llm-model"),
		Temperature: float32(v.GetFloat64("llm-temperature")),
		MaxTokens:   v.GetInt("llm-max-tokens"),
		Timeout:     v.GetDuration("llm-timeout"),
	}
}

func openKV(ctx context.Context, v *viper.Viper) (kv.Client, error) {
	c, err := kv.Open(ctx, kv.Options{
		URL:     v.GetString("kv-url"),
		Token:   v.GetString("kv-token"),
		Timeout: v.GetDuration("kv-timeout"),
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return c, nil
}

// newSessionStore picks the store implementation for the consistency mode.
func newSessionStore(c kv.Client, consistency string, retries int) (service.SessionStore, error) {
	switch strings.ToLower(strings.TrimSpace(consistency)) {
	case "", "rmw":
		return store.New(c), nil
	case "cas":
		sw, ok := c.(kv.Swapper)
		if !ok {
			return nil, fmt.Errorf("consistency cas needs a backend with compare-and-swap; %T has none", c)
		}
		return store.NewAtomic(sw, retries), nil
	}
	return nil, fmt.Errorf("unknown consistency %q (want rmw or cas)", consistency)
}

func newRouter(h *handler.Handler, prefix, lang string, origins []string, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Accept-Language"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(timeout))
	r.Use(appI18n.Middleware(lang))

	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		h.Routes(r)
	} else {
		r.Route(prefix, h.Routes)
	}
	return r
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kvc, err := openKV(ctx, v)
	if err != nil {
		return err
	}
	defer kvc.Close()

	st, err := newSessionStore(kvc, v.GetString("consistency"), v.GetInt("cas-retries"))
	if err != nil {
		return err
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(llmConfig(v))
	if !llmClient.HasKey() {
		slog.Warn("no LLM API key configured, classes will be created without questions")
	}

	h := handler.New(service.New(st, llmClient), kvc, llmClient)
	if n := v.GetInt("generate-per-minute"); n > 0 {
		h.LimitGeneration(handler.NewLimiter(n, v.GetInt("generate-burst")))
	}
	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           newRouter(h, v.GetString("api-prefix"), lang, v.GetStringSlice("cors-origins"), v.GetDuration("request-timeout")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", srv.Addr,
		"kv", fmt.Sprintf("%T", kvc),
		"consistency", v.GetString("consistency"),
		"model", llmClient.Model(),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(lang))

	client := llm.New(llmConfig(v))
	items, err := client.Generate(ctx, model.QuestionRequest{
		Topic:        v.GetString("topic"),
		Level:        v.GetString("level"),
		Count:        v.GetInt("count"),
		MustInclude:  v.GetString("must-include"),
		Avoid:        v.GetString("avoid"),
		GrammarFocus: v.GetStringSlice("grammar-focus"),
	})
	if err != nil {
		return fmt.Errorf("generate questions: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{"items": items}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Tp(ctx, "QuestionsGenerated", len(items)))
	return nil
}

func runKVCheck(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	kvc, err := openKV(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer kvc.Close()

	data, err := probeKV(cmd.Context(), kvc)
	if err != nil {
		return err
	}
	_, swaps := kvc.(kv.Swapper)
	slog.Info("session store reachable", "kv", fmt.Sprintf("%T", kvc), "compare_and_swap", swaps)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// probeKV writes a timestamped record under demo:key and reads it back.
func probeKV(ctx context.Context, c kv.Client) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{"hello": "world", "time": time.Now().UnixMilli()})
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, "demo:key", payload); err != nil {
		return nil, fmt.Errorf("write probe: %w", err)
	}
	data, err := c.Get(ctx, "demo:key")
	if err != nil {
		return nil, fmt.Errorf("read probe: %w", err)
	}
	return data, nil
}
