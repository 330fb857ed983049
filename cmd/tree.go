package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/dependencies"
	"github.com/ethpandaops/kpt/pkg/engine"
	"github.com/ethpandaops/kpt/pkg/metadata"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	treeEntityType int
	treeFormat     string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the KPI dependency tree of an entity type",
	Long: `Tree fetches the KPI declarations of an entity type and prints the
dependency tree they resolve to, as JSON or as DOT for graphviz.

Examples:
  kpt tree --entity-type 7 --format dot | dot -Tsvg > tree.svg`,
	RunE: runTree,
}

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().IntVar(&treeEntityType, "entity-type", 0, "Entity type id")
	treeCmd.Flags().StringVar(&treeFormat, "format", "json", "Output format (json, dot)")

	_ = treeCmd.MarkFlagRequired("entity-type")
}

func runTree(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	svc := engine.NewService(logger, &config.Engine, engine.Dependencies{
		Metadata: metadata.NewClient(logger, &config.Metadata, nil),
	})

	res, err := svc.Tree(ctx, config.Tenant, treeEntityType)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	switch treeFormat {
	case "dot":
		_, err = fmt.Fprint(out, dependencies.GenerateDOTFormat(res))
		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(dependencies.GetTreeInfo(res))
	default:
		return fmt.Errorf("unknown format %q", treeFormat)
	}
}
