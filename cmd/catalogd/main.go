package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/catalogd/internal/config"
)

func main() {
	root := buildRoot(newCommand(os.Stdout))
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(c *command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createRunOnceCommand(c, globalFlags),
		createExtractCommand(c),
		createTestCommand(c),
		createStatusCommand(c),
		createProductsCommand(c),
		createSearchCommand(c),
		createStatsCommand(c),
		createRunsCommand(c),
		createTokenCommand(c),
		createHashSecretCommand(c),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:     "catalogd",
		Short:   "B2B fashion catalog extractor",
		Version: config.AppVersion,
		Long: `catalogd logs into a B2B fashion catalog with a headless browser,
extracts the product listing on a schedule and serves it over a JSON API.

Examples:
  catalogd serve --config=catalogd.toml   # Start daemon
  catalogd run-once --config=catalogd.toml
  catalogd extract                        # Trigger a run on the daemon
  catalogd test                           # Check the site connection and login
  catalogd products --brand=Aurora --limit=20
  catalogd status --api-url=http://remote:3000/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API URL (default http://localhost:3000/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an https daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("CATALOGD_API_TOKEN"), "bearer token for a daemon with auth enabled")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extractor daemon",
		Long: `Start the HTTP API, the extraction schedule and the health log, and run
until SIGINT or SIGTERM.

Examples:
  catalogd serve
  catalogd serve --config=/etc/catalogd/catalogd.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), globalFlags.ConfigPath)
		},
	}
}

func createRunOnceCommand(c *command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Extract the catalog once in-process and exit",
		Long: `Run a single extraction without the API or the schedule, merge the
result into the configured store and print the run summary. Exits non-zero
when the run fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RunOnce(cmd.Context(), globalFlags.ConfigPath)
		},
	}
}

func createExtractCommand(c *command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Trigger an extraction run on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Extract(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createTestCommand(c *command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check that the daemon can reach the site and log in",
		Long: `Ask the daemon to open a fresh browser session, connect to the site and
log in, then close the session without scraping. Exits non-zero when a step
fails or a run is already in flight.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Test(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createProductsCommand(c *command) *cobra.Command {
	f := &ProductsFlags{}
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List extracted products",
		Long: `List one page of extracted products.

Examples:
  catalogd products
  catalogd products --page=2 --limit=10 --category=Dresses`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Products(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "products per page")
	cmd.Flags().StringVar(&f.Search, "search", "", "substring of name, brand, reference or description")
	cmd.Flags().StringVar(&f.Category, "category", "", "exact category")
	cmd.Flags().StringVar(&f.Brand, "brand", "", "exact brand")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createSearchCommand(c *command) *cobra.Command {
	f := &SearchFlags{}
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search products without pagination",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Query = args[0]
			}
			return c.Search(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Category, "category", "", "exact category")
	cmd.Flags().StringVar(&f.Brand, "brand", "", "exact brand")
	cmd.Flags().StringVar(&f.Sort, "sort", "", "name, brand, category, reference, price, discount or extractedAt")
	cmd.Flags().BoolVar(&f.Desc, "desc", false, "descending order")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createStatsCommand(c *command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stats(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createRunsCommand(c *command) *cobra.Command {
	f := &RunsFlags{}
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recent extraction runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.ID = args[0]
			}
			return c.Runs(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createTokenCommand(c *command) *cobra.Command {
	f := &TokenFlags{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange client credentials for a bearer token",
		Long: `Request a bearer token from a daemon with [server.auth] enabled. Pass it
to other commands with --token or CATALOGD_API_TOKEN.

Examples:
  catalogd token --client-id=ops --client-secret=$SECRET`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Token(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ClientID, "client-id", "", "client id")
	cmd.Flags().StringVar(&f.ClientSecret, "client-secret", os.Getenv("CATALOGD_CLIENT_SECRET"), "client secret")
	_ = cmd.MarkFlagRequired("client-id")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createHashSecretCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print the bcrypt hash of a client secret for [server.auth]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashSecret(args[0])
		},
	}
}
