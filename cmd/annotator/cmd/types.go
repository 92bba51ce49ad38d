package cmd

import (
	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Inspect the type registry",
}

var typesListCmd = &cobra.Command{
	Use:   "list [model]",
	Short: "List model types and their object types",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTypesList,
}

func init() {
	rootCmd.AddCommand(typesCmd)
	typesCmd.AddCommand(typesListCmd)
	typesListCmd.Flags().Bool("exact", false, "match the model name exactly instead of as a substring")
}

func runTypesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	reg, err := store.LoadRegistry(ctx)
	if err != nil {
		return err
	}

	models := reg.Models()
	if len(args) == 1 {
		exact, _ := cmd.Flags().GetBool("exact")
		models = reg.FindModel(args[0], exact)
	}

	var rows [][]string
	for _, m := range models {
		for _, ot := range m.ObjectTypes {
			rows = append(rows, []string{m.Name, ot.Name, ot.ID.String()})
		}
	}
	return renderTable(cmd.OutOrStdout(), []string{"Model", "Object", "ID"}, rows)
}
