package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"modelmux/config"
	"modelmux/provider"
	"modelmux/tools"
	"modelmux/transport"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"
)

func main() {
	var (
		promptArg    = flag.String("prompt", "", "send one message and stream the reply to stdout")
		summarizeArg = flag.String("summarize", "", "summarize the given text and print the result")
		providerArg  = flag.String("provider", "", "backend preference: auto, ollama, lmstudio or openai-compat")
		modelArg     = flag.String("model", "", "model name for the preferred backend (needs -provider or a configured preference)")
		attachArg    = flag.String("attach", "", "path of a file to attach to the prompt (multimodal backends only)")
		toolsArg     = flag.String("tools", "", "comma-separated tool names to enable (default: all registered)")
		listModels   = flag.Bool("list-models", false, "list the models every reachable backend serves")
		setArg       = flag.String("set", "", "update one config field, e.g. ollama.model=llama3.2")
		versionFlag  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("modelmux %s (%s)\n", Version, License)
		return
	}

	// Validate environment variables first
	if config.HasAnyEnvVar() && !config.HasAllEnvVars() {
		fmt.Fprintln(os.Stderr, "When using environment variables, all 3 must be set:")
		fmt.Fprintln(os.Stderr, "  MODELMUX_OLLAMA_HOST")
		fmt.Fprintln(os.Stderr, "  MODELMUX_OLLAMA_MODEL")
		fmt.Fprintln(os.Stderr, "  MODELMUX_DATA_DIR")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("Failed to load config: %v", err)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	if *setArg != "" {
		section, field, value, err := parseSet(*setArg)
		if err != nil {
			fatal("%v", err)
		}
		if err := config.UpdateBackendField(cfg.DataDir(), section, field, value); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Set %s.%s\n", section, field)
		return
	}

	if *providerArg != "" {
		if *providerArg != "auto" {
			if _, err := provider.ParseKind(*providerArg); err != nil {
				fatal("Invalid -provider %q: want auto, ollama, lmstudio or openai-compat", *providerArg)
			}
		}
		cfg.PreferredProvider = *providerArg
	}
	if *modelArg != "" {
		switch cfg.PreferredProvider {
		case string(provider.KindOllama):
			cfg.OllamaModel = *modelArg
		case string(provider.KindLMStudio):
			cfg.LMStudioModel = *modelArg
		case string(provider.KindOpenAICompat):
			cfg.OpenAICompatModel = *modelArg
		default:
			fatal("-model needs an explicit backend: pass -provider or configure transport.preferred_provider")
		}
	}

	backends, err := buildBackends(cfg)
	if err != nil {
		fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listModels {
		printModels(ctx, backends)
		return
	}

	if *promptArg == "" && *summarizeArg == "" {
		flag.Usage()
		os.Exit(2)
	}

	reg := tools.NewRegistry()
	tr := transport.New(cfg, reg, backends...)

	// Download and load progress renders on stderr via the side channel;
	// stdout stays clean generated text.
	tr.OnDownloadProgress(func(ev provider.ProgressEvent) {
		if ev.Status == provider.ProgressComplete {
			fmt.Fprintf(os.Stderr, "\r%-60s\n", "model ready")
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s %3.0f%%", ev.Message, ev.Percent)
	})

	if *summarizeArg != "" {
		_, err := tr.Summarize(ctx, *summarizeArg, transport.SummarizeOptions{
			OnChunk: func(chunk string) { fmt.Print(chunk) },
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(os.Stderr)
				return
			}
			fatal("%v", err)
		}
		fmt.Println()
		return
	}

	var opts transport.SendOptions
	if *attachArg != "" {
		att, err := loadAttachment(*attachArg)
		if err != nil {
			fatal("%v", err)
		}
		opts.Attachment = att
	}
	if *toolsArg != "" {
		opts.Tools = splitList(*toolsArg)
	}

	if len(cfg.MCPServers) > 0 {
		mgr := tools.NewManager(reg)
		for _, sc := range cfg.MCPServers {
			err := mgr.Start(ctx, tools.ServerConfig{
				Name:      sc.Name,
				Command:   sc.Command,
				Args:      sc.Args,
				Env:       mcpServerEnv(cfg.CredentialStore, sc),
				URL:       sc.URL,
				Transport: sc.Transport,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "mcp server %s: %v\n", sc.Name, err)
			}
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mgr.Shutdown(sctx); err != nil && config.Debug && config.DebugLog != nil {
				config.DebugLog.Printf("MCP shutdown: %v", err)
			}
		}()
	}

	runPrompt(ctx, tr, *promptArg, opts)
}

// runPrompt sends one message and renders the event stream: text to
// stdout, everything else to stderr. Progress events are skipped here
// because the side channel already renders them.
func runPrompt(ctx context.Context, tr *transport.Transport, prompt string, opts transport.SendOptions) {
	stream := tr.SendMessages(ctx, []provider.Turn{provider.UserTurn(prompt)}, opts)
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			fmt.Println()
			return
		}
		if err != nil {
			// the stream already delivered an error notification
			os.Exit(1)
		}

		switch ev.Kind {
		case provider.EventProgress:
		case provider.EventTextDelta:
			fmt.Print(ev.Text)
		case provider.EventToolCall:
			args, _ := json.Marshal(ev.ToolArgs)
			fmt.Fprintf(os.Stderr, "\n[tool] %s %s\n", ev.ToolName, args)
		case provider.EventToolResult:
			fmt.Fprintf(os.Stderr, "[tool] %s -> %s\n", ev.ToolName, truncate(ev.ToolOutput, 200))
		case provider.EventNotification:
			fmt.Fprintf(os.Stderr, "\n%s: %s\n", ev.Level, ev.Message)
		}
	}
}

func buildBackends(cfg *config.Config) ([]provider.Backend, error) {
	provCfgs := []provider.Config{
		{Kind: provider.KindOllama, BaseURL: cfg.OllamaHost, Model: cfg.OllamaModel},
		{Kind: provider.KindLMStudio, BaseURL: cfg.LMStudioHost, Model: cfg.LMStudioModel},
		{Kind: provider.KindOpenAICompat, BaseURL: cfg.OpenAICompatURL, Model: cfg.OpenAICompatModel, APIKey: cfg.OpenAICompatAPIKey()},
	}
	out := make([]provider.Backend, 0, len(provCfgs))
	for _, pc := range provCfgs {
		b, err := provider.NewBackend(pc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pc.Kind, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func printModels(ctx context.Context, backends []provider.Backend) {
	for _, b := range backends {
		bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		models, err := b.ListModels(bctx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", b.Kind(), err)
			continue
		}
		for _, m := range models {
			if m.Size > 0 {
				fmt.Printf("%-14s %s (%s)\n", m.Backend, m.Name, formatSize(m.Size))
			} else {
				fmt.Printf("%-14s %s\n", m.Backend, m.Name)
			}
		}
	}
}

func loadAttachment(path string) (*provider.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return &provider.Attachment{MediaType: mediaType, Data: data}, nil
}

// parseSet splits "section.field=value" into its parts.
// mcpServerEnv fills empty env values from the credential store, so
// server secrets can live in the (possibly encrypted) credential file
// instead of config.toml. Set them with -set mcp.<server>.<key>=value.
func mcpServerEnv(store *config.CredentialStore, sc config.MCPServerConfig) map[string]string {
	if len(sc.Env) == 0 || store == nil {
		return sc.Env
	}
	env := make(map[string]string, len(sc.Env))
	for k, v := range sc.Env {
		if v == "" {
			v = store.GetMCP(sc.Name, k)
		}
		env[k] = v
	}
	return env
}

func parseSet(s string) (section, field, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", "", fmt.Errorf("-set wants section.field=value, got %q", s)
	}
	section, field, ok = strings.Cut(key, ".")
	if !ok || section == "" || field == "" {
		return "", "", "", fmt.Errorf("-set wants section.field=value, got %q", s)
	}
	return section, field, value, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatSize(n int64) string {
	const (
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.0f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
