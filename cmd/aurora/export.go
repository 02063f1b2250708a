package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/config"
	"github.com/cyclab/aurora/internal/export"
	"github.com/cyclab/aurora/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded sample states to PostgreSQL",
	Long: `Reads sample states from the local store and writes them to a
PostgreSQL table. Rows already present are skipped, so repeated exports
are safe.`,
	RunE: runExport,
}

var (
	exportDSN    string
	exportTable  string
	exportSample string
)

func init() {
	exportCmd.Flags().StringVar(&exportDSN, "dsn", "", "PostgreSQL connection string (defaults to config)")
	exportCmd.Flags().StringVar(&exportTable, "table", "", "Target table (defaults to config)")
	exportCmd.Flags().StringVar(&exportSample, "sample", "", "Export states for one sample only")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if exportDSN == "" {
		exportDSN = cfg.Export.DSN
	}
	if exportTable == "" {
		exportTable = cfg.Export.Table
	}
	if exportDSN == "" {
		return fmt.Errorf("no export DSN configured (set --dsn or export.dsn in config)")
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	states, err := s.ListStates(exportSample)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("No states to export")
		return nil
	}

	sink, err := export.Open(exportDSN, exportTable)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.WriteBatch(states); err != nil {
		return err
	}
	fmt.Printf("Exported %d states\n", len(states))
	return nil
}
