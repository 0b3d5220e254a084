package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/config"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/logging"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/server"
	"github.com/ZanzyTHEbar/kg-provider-go/pkg/kgprovider"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "kg-provider",
		Short:         "Knowledge-graph provider served over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	pf.String("provider", config.ProviderNone, "provider: none or neo4j")
	pf.String("store-url", "", "libSQL URL for the reference engine")
	pf.String("neo4j-uri", "", "neo4j bolt URI")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	for key, flag := range map[string]string{
		"provider":  "provider",
		"store.url": "store-url",
		"neo4j.uri": "neo4j-uri",
		"log.level": "log-level",
	} {
		_ = opts.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(newServeCmd(opts), newSchemaCmd(opts), newVersionCmd())
	return root
}

// load resolves the config from defaults, file, env and flags in that order.
func (o *rootOptions) load() (*config.ProviderConfig, *log.Logger, error) {
	if o.configPath != "" {
		o.v.SetConfigFile(o.configPath)
		if err := o.v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config %s: %w", o.configPath, err)
		}
	}
	cfg, err := config.FromViper(o.v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (o *rootOptions) open(ctx context.Context) (kgprovider.Provider, *log.Logger, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	provider, err := kgprovider.New(ctx, *cfg, kgprovider.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s provider: %w", cfg.Provider, err)
	}
	return provider, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var transport, addr, endpoint string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the provider as MCP tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider, logger, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := provider.Close(); err != nil {
					logger.Error("error closing provider", "err", err)
				}
			}()

			srv := server.NewMCPServer(provider, logger)
			logger.Info("starting kg-provider", "version", buildinfo.Version, "provider", provider.Name(), "transport", transport)
			switch transport {
			case "stdio":
				err = srv.Run(ctx)
			case "sse":
				err = srv.RunSSE(ctx, addr, endpoint)
			default:
				return fmt.Errorf("unknown transport: %s (expected: stdio or sse)", transport)
			}
			if err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "transport to use: stdio or sse")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on when using SSE transport")
	cmd.Flags().StringVar(&endpoint, "sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
	return cmd
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the current graph schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer provider.Close()

			snap, err := provider.GetSchema(cmd.Context(), true)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), snap.Text)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kg-provider %s (%s, built %s)\n",
				buildinfo.Version, buildinfo.Revision, buildinfo.BuildDate)
		},
	}
}
