package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quantbench/internal/domain"
	"quantbench/internal/strategy"
	"quantbench/pkg/quantbench"
)

var (
	serverURL    string
	submitStart  string
	submitEnd    string
	submitWait   bool
	submitPoll   time.Duration
	submitFile   string
	listLimit    int
	statusTrades int

	submitCmd = &cobra.Command{
		Use:   "submit",
		Short: "Submit a backtest to quantbench-server",
		Long: `Submit a strategy definition for asynchronous execution.

Examples:
  quantbench submit --strategy sma.yaml --start 2023-01-01
  quantbench submit --strategy sma.yaml --start 2023-01-01 --wait`,
		Args: cobra.NoArgs,
		RunE: runSubmit,
	}
	statusCmd = &cobra.Command{
		Use:   "status ID",
		Short: "Show a backtest's status and results",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent backtests",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cancelCmd = &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending or running backtest",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	typesCmd = &cobra.Command{
		Use:   "types",
		Short: "List strategy types and their default parameters",
		Args:  cobra.NoArgs,
		RunE:  runTypes,
	}
)

// defaultServer is $QUANTBENCH_SERVER or the local default.
func defaultServer() string {
	if v := os.Getenv("QUANTBENCH_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, statusCmd, listCmd, cancelCmd} {
		c.Flags().StringVar(&serverURL, "server", defaultServer(), "quantbench-server base URL")
	}

	submitCmd.Flags().StringVarP(&submitFile, "strategy", "s", "", "strategy definition file (YAML or JSON)")
	submitCmd.Flags().StringVar(&submitStart, "start", "", "first date, YYYY-MM-DD")
	submitCmd.Flags().StringVar(&submitEnd, "end", "", "last date, YYYY-MM-DD (default today)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the backtest to finish")
	submitCmd.Flags().DurationVar(&submitPoll, "poll", time.Second, "poll interval with --wait")
	submitCmd.MarkFlagRequired("strategy")

	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of backtests")
	statusCmd.Flags().IntVar(&statusTrades, "trades", 20, "number of trades to print")

	rootCmd.AddCommand(submitCmd, statusCmd, listCmd, cancelCmd, typesCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	def, err := strategy.LoadDefinition(submitFile)
	if err != nil {
		return err
	}
	if _, _, err := parseDates(submitStart, submitEnd); err != nil {
		return err
	}
	client := quantbench.NewClient(serverURL)
	res, err := client.SubmitBacktest(cmd.Context(), def, submitStart, submitEnd)
	if err != nil {
		return err
	}
	if submitWait {
		if res, err = client.WaitBacktest(cmd.Context(), res.ID, submitPoll); err != nil {
			return err
		}
	}
	return printResult(cmd.OutOrStdout(), res, statusTrades)
}

func runStatus(cmd *cobra.Command, args []string) error {
	res, err := quantbench.NewClient(serverURL).GetBacktest(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, statusTrades)
}

func runList(cmd *cobra.Command, _ []string) error {
	list, err := quantbench.NewClient(serverURL).ListBacktests(cmd.Context(), listLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), list)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderList(list))
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	if err := quantbench.NewClient(serverURL).CancelBacktest(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for %s\n", args[0])
	return nil
}

// runTypes reads the local registry; it needs no server.
func runTypes(cmd *cobra.Command, _ []string) error {
	families := strategy.DefaultRegistry().List()
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), families)
	}
	var b strings.Builder
	for _, f := range families {
		b.WriteString(titleStyle.Render(string(f.Type)))
		b.WriteString("  " + dimStyle.Render(f.Description) + "\n")
		for _, k := range sortedKeys(f.Defaults) {
			fmt.Fprintf(&b, "    %s = %s\n", labelStyle.Render(k), formatFloat(f.Defaults[k]))
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), b.String())
	return nil
}

func printResult(w io.Writer, res *domain.BacktestResult, trades int) error {
	if jsonOutput {
		return writeJSON(w, res)
	}
	fmt.Fprint(w, renderResult(res, trades))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
