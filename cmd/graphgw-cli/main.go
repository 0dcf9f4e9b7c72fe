// Package main provides the graphgw-cli command-line tool for managing the
// graph gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	graphgateway "github.com/arbor-labs/graph-gateway"
	"github.com/arbor-labs/graph-gateway/internal/catalog"
	"github.com/arbor-labs/graph-gateway/internal/version"
	"github.com/arbor-labs/graph-gateway/ratelimit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "graphgw-cli",
		Short:         "Command line tool for the graph gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newValidateCmd(),
		newToolsCmd(),
		newKeyCmd(),
		newVersionCmd(),
	)
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := graphgateway.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := graphgateway.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			fmt.Printf("✓ Config is valid\n")
			fmt.Printf("  Backend:     %s (timeout %ds)\n", cfg.Backend.URL, cfg.Backend.TimeoutSeconds)
			fmt.Printf("  Query cache: %d entries, %d MB total, %d MB per entry\n",
				cfg.QueryCache.MaxEntries, cfg.QueryCache.MaxTotalSizeMB, cfg.QueryCache.MaxEntrySizeMB)
			fmt.Printf("  Tool cache:  %d entries, default TTL %ds\n",
				cfg.ToolCache.MaxEntries, cfg.ToolCache.DefaultTTLSeconds)
			fmt.Printf("  Rate limits: %d/%d/%d per %ds window\n",
				cfg.RateLimit.Limits.Anonymous, cfg.RateLimit.Limits.Authenticated,
				cfg.RateLimit.Limits.Admin, cfg.RateLimit.WindowSeconds)
			if len(cfg.ToolCache.TTLOverrides) > 0 {
				fmt.Printf("  Overrides:   %d tool TTL override(s)\n", len(cfg.ToolCache.TTLOverrides))
			}
			if cfg.Admin.Enabled {
				fmt.Printf("  Admin API:   enabled (%s)\n", cfg.Admin.Driver)
			}
			return nil
		},
	}
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog with cache TTLs and required tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load()
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}
			fmt.Printf("%d tools in catalog:\n", len(cat))
			for _, name := range cat.Names() {
				tool, _ := cat.Get(name)
				ttl := "uncached"
				if tool.TTLSeconds > 0 {
					ttl = fmt.Sprintf("ttl=%ds", tool.TTLSeconds)
				}
				tier := tool.MinTier
				if tier == "" {
					tier = "anonymous"
				}
				fmt.Printf("  %-20s %-12s tier=%-13s %s\n", name, ttl, tier, tool.Description)
			}
			return nil
		},
	}
}

func newKeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "API key utilities",
	}

	var hashIP bool
	hash := &cobra.Command{
		Use:   "hash <api-key|ip>",
		Short: "Print the rate-limiter bucket key for an API key or IP",
		Long: `Print the namespaced rate-limiter bucket key for a credential.

Limiter snapshots and logs identify callers by these keys rather than by
raw credentials, so this is the way to match a caller to a bucket.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hashIP {
				fmt.Println(ratelimit.KeyForIP(args[0]))
				return nil
			}
			fmt.Println(ratelimit.KeyForAPIKey(args[0]))
			return nil
		},
	}
	hash.Flags().BoolVar(&hashIP, "ip", false, "treat the argument as an IP address")

	key.AddCommand(hash)
	return key
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("graphgw-cli %s\n", version.String())
		},
	}
}
