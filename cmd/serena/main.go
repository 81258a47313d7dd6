// Serena is a semantic code-intelligence service: it drives
// per-language LSP backends for one active project at a time and
// exposes the result as MCP tools to language-model agents.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/serena/internal/config"
	"github.com/ternarybob/serena/internal/logger"
	lspregistry "github.com/ternarybob/serena/internal/lsp/registry"
	"github.com/ternarybob/serena/internal/mcpserver"
	"github.com/ternarybob/serena/internal/project"
	"github.com/ternarybob/serena/internal/session"
	"github.com/ternarybob/serena/internal/store"
	"github.com/ternarybob/serena/internal/tools"
)

// version is set via -ldflags at build time.
var version = "dev"

var (
	flagConfig    string
	flagContext   string
	flagTransport string
	flagHTTPAddr  string
)

func main() {
	root := &cobra.Command{
		Use:           "serena",
		Short:         "Semantic code-intelligence MCP service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to serena_config.yml (default: $SERENA_HOME/serena_config.yml)")
	root.Flags().StringVar(&flagContext, "context", "", "runtime context: agent or ide-assistant")
	root.Flags().StringVar(&flagTransport, "transport", "", "transport: stdio or http")
	root.Flags().StringVar(&flagHTTPAddr, "http-addr", "", "listen address for --transport http")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "serena:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath := flagConfig
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagTransport != "" {
		cfg.MCP.Transport = flagTransport
	}
	if flagHTTPAddr != "" {
		cfg.MCP.HTTPAddr = flagHTTPAddr
	}
	if flagContext != "" {
		cfg.Service.DefaultContext = flagContext
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Setup(cfg)
	defer logger.Stop()
	log.Info().Str("version", version).Str("home", cfg.Service.Home).Msg("starting serena")

	contexts := tools.DefaultContexts()
	runtimeContext, ok := contexts[cfg.Service.DefaultContext]
	if !ok {
		return fmt.Errorf("unknown context %q", cfg.Service.DefaultContext)
	}

	st := store.New(cfg.Service.Home)
	manager, err := project.NewManager(st, lspregistry.New(), project.ManagerOptions{
		CacheCapacity:     cfg.Cache.CapacityEntries,
		ActivationTimeout: activationTimeout(cfg),
		WatchFiles:        true,
	})
	if err != nil {
		return err
	}

	env := &tools.Env{
		Manager: manager,
		Store:   st,
		Session: session.New(),
	}
	dispatcher := tools.NewDispatcher(env, runtimeContext)
	srv := mcpserver.New(dispatcher, version)

	if cfg.MCP.Transport == "http" {
		return srv.ServeHTTP(cfg.MCP.HTTPAddr)
	}
	return srv.ServeStdio()
}

func activationTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Index.ActivationTimeoutMS) * time.Millisecond
}
