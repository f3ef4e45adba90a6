// Command bridge relays chat between a C64 running under VICE and a text
// generation service. It polls the emulator's shared-memory mailboxes for
// user messages and writes responses (and optional thinking commentary)
// back, while also accepting operator input on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/retroterm/c64bridge/internal/bridge"
	"github.com/retroterm/c64bridge/internal/config"
	"github.com/retroterm/c64bridge/internal/poller"
	"github.com/retroterm/c64bridge/internal/provider"
	"github.com/retroterm/c64bridge/internal/sender"
	"github.com/retroterm/c64bridge/internal/vicemon"
	"github.com/retroterm/c64bridge/memory"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath      string
		viceAddr     string
		providerName string
		llamaURL     string
		model        string
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Chat bridge between a C64 under VICE and a generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			// Flags outrank both the file and the environment.
			if cmd.Flags().Changed("vice-addr") {
				cfg.ViceAddr = viceAddr
			}
			if cmd.Flags().Changed("provider") {
				cfg.Provider = providerName
			}
			if cmd.Flags().Changed("llama-url") {
				cfg.LlamaURL = llamaURL
			}
			if cmd.Flags().Changed("model") {
				cfg.Model = model
			}
			if verbose {
				cfg.Verbose = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&viceAddr, "vice-addr", "", "VICE binary monitor address (host:port)")
	cmd.Flags().StringVar(&providerName, "provider", "", "generation backend: claude or llamacpp")
	cmd.Flags().StringVar(&llamaURL, "llama-url", "", "llama.cpp server base URL")
	cmd.Flags().StringVar(&model, "model", "", "Anthropic model override")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func run(cfg config.Config) error {
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	gen, err := newGenerator(cfg, log)
	if err != nil {
		return err
	}

	transport := vicemon.New(cfg.ViceAddr)
	snd := sender.New(transport, sender.DefaultConfig(), log)
	conv := memory.NewConversation(memory.DefaultCap)

	bcfg := bridge.DefaultConfig()
	bcfg.RelayThinking = cfg.RelayThinking
	b := bridge.New(transport, gen, snd, conv, bcfg, log)

	// The one fatal startup condition: the monitor must be reachable so
	// stale mailbox contents can be cleared before polling starts.
	if err := b.InitializeDevice(); err != nil {
		return fmt.Errorf("initialize device: %w", err)
	}
	log.Info("device initialized",
		zap.String("vice_addr", cfg.ViceAddr),
		zap.String("provider", cfg.Provider))

	pcfg := poller.DefaultConfig()
	pcfg.Interval = cfg.PollInterval
	pcfg.Debounce = cfg.Debounce
	p := poller.New(transport, pcfg, b.HandleMessage, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error { return repl(ctx, b, stop) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("bridge stopped")
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newGenerator(cfg config.Config, log *zap.Logger) (provider.Generator, error) {
	switch cfg.Provider {
	case config.ProviderClaude:
		// SDK reads the key itself; fail early with a clear message.
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return nil, fmt.Errorf("missing ANTHROPIC_API_KEY; export it before running")
		}
		acfg := provider.DefaultAnthropicConfig()
		if cfg.Model != "" {
			acfg.Model = anthropic.Model(cfg.Model)
		}
		return provider.NewAnthropicClient(acfg, log), nil
	case config.ProviderLlamaCpp:
		lcfg := provider.DefaultLlamaConfig()
		lcfg.BaseURL = cfg.LlamaURL
		return provider.NewLlamaClient(lcfg, log), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

const replHelp = `Commands:
  /read   drain the C64's outgoing mailbox once
  /clear  zero the response and thinking mailboxes
  /reset  clear conversation history
  /help   this text
  /quit   exit
Anything else is sent to the model as a chat message.`

// repl accepts operator input alongside device traffic. Free text goes
// through the same exchange path as a device message.
func repl(ctx context.Context, b *bridge.Bridge, quit func()) error {
	// stdin reader goroutine -> lines into channel
	inputCh := make(chan string)
	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		for scanner.Scan() {
			inputCh <- scanner.Text()
		}
		close(inputCh)
	}()

	fmt.Println("C64 bridge ready (Ctrl-C or /quit to exit)")
	for {
		fmt.Print("> ")
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-inputCh:
			if !ok {
				quit()
				return nil
			}
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case line == "/quit":
			quit()
			return nil
		case line == "/help":
			fmt.Println(replHelp)
		case line == "/reset":
			b.ResetConversation()
			fmt.Println("conversation cleared")
		case line == "/clear":
			if err := b.ClearInbound(); err != nil {
				fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
			} else {
				fmt.Println("mailboxes cleared")
			}
		case line == "/read":
			msg, err := b.ReadOutgoing()
			switch {
			case err != nil:
				fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			case msg == "":
				fmt.Println("(outgoing mailbox empty)")
			default:
				fmt.Printf("C64: %s\n", msg)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Printf("unknown command %s (try /help)\n", line)
		default:
			b.Exchange(line)
		}
	}
}
