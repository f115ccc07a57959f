package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agroflow-systems/agroflow/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "agroflow",
		Short: "Batch orchestration and idempotent loading for the agro-climatic warehouse",
		Long: `Agroflow ingests weather observations, soil samples and crop requirement
profiles into a dimensional Postgres warehouse. Every batch is recorded in an
audit ledger and every record carries a content fingerprint, so rerunning a
window never double-loads data.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewMigrateCmd(),
		commands.NewRunCmd(),
		commands.NewStatusCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
