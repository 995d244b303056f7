package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openhms/medledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	asJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medledger",
	Short: "Hospital record integrity ledger CLI",
	Long: `medledger is the command-line interface for the record integrity ledger.

It inspects the hash chain, verifies individual record attestations, and
triggers reconciliation passes against a running ledgerd instance.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.medledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.medledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Output raw JSON instead of tables")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(blocksCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func api() *client.Client {
	return client.New(serverURL)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chain length and tip hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		ov, err := api().Overview(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(ov)
		}
		fmt.Printf("blocks: %d\n", ov.Blocks)
		fmt.Printf("tip:    %s\n", ov.Tip)
		return nil
	},
}

// ── validate ─────────────────────────────────────────────────────────────────

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Recompute the full chain and report the first violation, if any",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		result, err := api().Validate(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(result)
		}
		if result.Valid {
			fmt.Println("chain valid")
			return nil
		}
		fmt.Printf("chain INVALID at block %d: %s\n", result.FailedIndex, result.Error)
		os.Exit(1)
		return nil
	},
}

// ── blocks ───────────────────────────────────────────────────────────────────

var blocksLimit int

var blocksCmd = &cobra.Command{
	Use:   "blocks [index]",
	Short: "List recent blocks, or show one block by index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		if len(args) == 1 {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid block index %q", args[0])
			}
			b, err := api().Block(ctx, idx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(b)
			}
			printBlocks([]client.Block{*b})
			return nil
		}

		list, err := api().Blocks(ctx, blocksLimit)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("ledger is empty")
			return nil
		}
		printBlocks(list)
		return nil
	},
}

func init() {
	blocksCmd.Flags().IntVar(&blocksLimit, "limit", 10, "Number of most recent blocks to list")
}

func printBlocks(list []client.Block) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tTABLE\tRECORD\tDATA HASH\tCREATED")
	for _, b := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			b.Index, b.TableName, b.RecordID,
			shortHash(b.DataHash), b.CreatedAt.Local().Format(time.RFC3339),
		)
	}
	w.Flush() //nolint:errcheck
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12] + "…"
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <table> <record-id> [data-hash]",
	Short: "Check whether a record is attested on the chain",
	Long: `Verify checks a record against the ledger.

With a data-hash argument, the given hash is checked directly. Without one,
the server re-reads the row, recomputes its hash, and checks that:

  medledger verify PATIENTS 42
  medledger verify PATIENTS 42 9f8e7d6c...`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		table, id := strings.ToUpper(args[0]), args[1]

		var attested bool
		var err error
		if len(args) == 3 {
			attested, err = api().VerifyRecord(ctx, table, id, args[2])
		} else {
			attested, err = api().RecordIntegrity(ctx, table, id)
		}
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(map[string]any{"table_name": table, "record_id": id, "attested": attested})
		}
		if attested {
			fmt.Printf("%s/%s: attested\n", table, id)
			return nil
		}
		fmt.Printf("%s/%s: NOT attested\n", table, id)
		os.Exit(1)
		return nil
	},
}

// ── sync ─────────────────────────────────────────────────────────────────────

var syncCmd = &cobra.Command{
	Use:   "sync [table ...]",
	Short: "Trigger a reconciliation pass",
	Long: `Sync asks the server to backfill ledger blocks for rows that are not yet
attested. With no arguments every tracked table is reconciled:

  medledger sync
  medledger sync PATIENTS BILLING`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		tables := make([]string, len(args))
		for i, t := range args {
			tables[i] = strings.ToUpper(t)
		}

		summary, err := api().Sync(ctx, tables)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(summary)
		}
		fmt.Printf("run %s: %d rows processed, %d newly attested\n",
			summary.RunID, summary.Processed, summary.Attested)
		for table, msg := range summary.Errors {
			fmt.Printf("  %s: %s\n", table, msg)
		}
		if len(summary.Errors) > 0 {
			os.Exit(1)
		}
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the medledger CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("medledger %s\n", version)
	},
}
