package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kanveo/kanveo-cli/internal/model"
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect import batches",
	Long:  "Commands for listing and deleting import batches.",
}

// -- batches list --

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's import batches, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		batches, err := st.ListBatches(ctx, owner, limit, offset)
		if err != nil {
			return eris.Wrap(err, "batches list")
		}

		if len(batches) == 0 {
			fmt.Fprintln(os.Stderr, "No batches found.")
			return nil
		}

		formatBatchesList(os.Stdout, batches)
		return nil
	},
}

// -- batches delete --

var batchesDeleteCmd = &cobra.Command{
	Use:   "delete <batch-id>",
	Short: "Delete a batch and every record it produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		owner, _ := cmd.Flags().GetString("owner")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteBatch(ctx, owner, args[0]); err != nil {
			return eris.Wrap(err, "batches delete")
		}

		fmt.Fprintf(os.Stdout, "Deleted batch %s.\n", args[0])
		return nil
	},
}

func formatBatchesList(out io.Writer, batches []model.ImportBatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tROWS\tMAPPED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t-------")

	for _, b := range batches {
		name := b.FileName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			truncateID(b.ID),
			name,
			b.RowCount,
			b.MappingSnapshot.MappedCount(),
			b.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	batchesCmd.PersistentFlags().String("owner", "", "owner id")
	_ = batchesCmd.MarkPersistentFlagRequired("owner")

	batchesListCmd.Flags().Int("limit", 50, "max number of batches to display")
	batchesListCmd.Flags().Int("offset", 0, "number of batches to skip")

	batchesCmd.AddCommand(batchesListCmd)
	batchesCmd.AddCommand(batchesDeleteCmd)
	rootCmd.AddCommand(batchesCmd)
}
