package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stockmetrics/internal/symbols"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage the symbol list",
}

var symbolsImportCmd = &cobra.Command{
	Use:   "import [symbol...]",
	Short: "Replace the symbol sheet",
	Long: `Import replaces the sheet named by SYMBOL_SOURCE=sheet:<name>. Symbols come
from the arguments, from --file, or from the S&P 500 constituents with
--sp500.`,
	RunE: runSymbolsImport,
}

var symbolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the symbols the next run would use",
	Args:  cobra.NoArgs,
	RunE:  runSymbolsList,
}

var (
	importFile  string
	importSP500 int
)

func init() {
	symbolsImportCmd.Flags().StringVar(&importFile, "file", "", "Read symbols from a file, one per line")
	symbolsImportCmd.Flags().IntVar(&importSP500, "sp500", 0, "Import the first N S&P 500 constituents")
	symbolsCmd.AddCommand(symbolsImportCmd, symbolsListCmd)
}

func runSymbolsImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	list := append([]string(nil), args...)

	if importFile != "" {
		fromFile, err := symbols.File{Path: importFile}.Symbols(ctx)
		if err != nil {
			return err
		}
		list = append(list, fromFile...)
	}
	if importSP500 > 0 {
		fromWeb, err := symbols.NewSP500("", importSP500).Symbols(ctx)
		if err != nil {
			return err
		}
		list = append(list, fromWeb...)
	}
	if len(list) == 0 {
		return fmt.Errorf("nothing to import: pass symbols, --file or --sp500")
	}

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.ImportSymbols(ctx, list)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d symbols\n", n)
	return nil
}

func runSymbolsList(cmd *cobra.Command, _ []string) error {
	svc, err := newService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	list, err := svc.Symbols(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for i, s := range list {
		fmt.Fprintf(out, "%4d  %s\n", i+1, s)
	}
	fmt.Fprintf(out, "%s\n%d symbols\n", strings.Repeat("-", 12), len(list))
	return nil
}
