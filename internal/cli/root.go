// Package cli implements marketctl, an operator tool that talks to the
// marketplace API through the same token manager, client and normalizer
// the BFA uses.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/accmarket/market-bfa-go/internal/config"
	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/cache"
	"github.com/accmarket/market-bfa-go/internal/infra/market"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/infra/resilience"
	"github.com/accmarket/market-bfa-go/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// GlobalFlags are available to every command.
type GlobalFlags struct {
	EnvFile string
	Output  string
	Verbose bool
	Timeout time.Duration
}

// app holds the wired marketplace stack for one invocation.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpClient *http.Client
	tokens     *market.TokenManager
	client     *market.Client
	catalog    *service.Catalog
}

func newApp(flags *GlobalFlags) (*app, error) {
	if flags.EnvFile != "" {
		if err := config.LoadDotEnv(flags.EnvFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", flags.EnvFile, err)
		}
	}
	cfg := config.Load()
	if flags.Timeout > 0 {
		cfg.HTTPTimeout = flags.Timeout
	}

	level := "error"
	if flags.Verbose {
		level = "debug"
	}
	logger := observability.NewLogger(level)
	metrics := observability.NewMetrics()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	tokens := market.NewTokenManager(httpClient, cfg.MarketTokenURL, cfg.MarketScope, cfg.Credentials(), metrics, logger)
	client := market.NewClient(
		httpClient,
		cfg.MarketURL(),
		tokens,
		resilience.NewCircuitBreaker(observability.BreakerMarket, market.IsSuccessful, metrics.BreakerListener(logger)),
		resilience.Config{
			MaxRetries:        cfg.MaxRetries,
			InitialBackoff:    cfg.InitialBackoff,
			MaxConcurrency:    cfg.MaxConcurrency,
			RequestsPerSecond: cfg.MarketRateLimit,
		},
		metrics,
		logger,
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
		tokens:     tokens,
		client:     client,
		catalog:    service.NewCatalog(client, cache.New[[]domain.CategoryInfo](cfg.CacheTTL), metrics, logger),
	}, nil
}

// NewRootCmd builds the marketctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	flags := &GlobalFlags{}
	var a *app

	root := &cobra.Command{
		Use:   "marketctl",
		Short: "marketctl - inspect the account marketplace API",
		Long: `marketctl talks to the marketplace API with the BFA's credentials.

Configuration comes from the environment (MARKET_BASE_URL, MARKET_API_TOKEN,
MARKET_CLIENT_ID, MARKET_CLIENT_SECRET, ...) and an optional .env file.

Examples:
  # Acquire a token and show its status
  marketctl token

  # Newest Steam accounts with CS2, as YAML
  marketctl accounts steam --filter game=730 --limit 5 -o yaml

  # Dump the normalized form of one listing
  marketctl item 123456 --dump`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch flags.Output {
			case outputJSON, outputYAML, outputTable:
			default:
				return fmt.Errorf("unknown output %q (json, yaml, table)", flags.Output)
			}
			var err error
			a, err = newApp(flags)
			return err
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&flags.EnvFile, "env-file", ".env", "Path to a .env file (missing file is ignored)")
	root.PersistentFlags().StringVarP(&flags.Output, "output", "o", outputJSON, "Output format: json, yaml or table")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 0, "HTTP timeout (default MARKET_TIMEOUT)")

	appFn := func() *app { return a }
	root.AddCommand(
		newTokenCmd(appFn, flags),
		newAccountsCmd(appFn, flags),
		newItemCmd(appFn, flags),
		newCategoriesCmd(appFn, flags),
		newRawCmd(appFn, flags),
	)
	return root
}

// Execute runs marketctl with args and returns the process exit code.
func Execute(args []string) int {
	root := NewRootCmd(os.Stdout)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
