package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kanveo/kanveo-cli/internal/model"
	"github.com/kanveo/kanveo-cli/internal/store"
)

// listColumns are the record fields shown by records list.
var listColumns = []string{"company", "name", "email", "phone", "city"}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Browse and manage imported records",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List imported records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := recordFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		page, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if len(page.Records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordsList(os.Stdout, page)
		return nil
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show a record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, owner, args[0])
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- records delete --

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteRecord(ctx, owner, args[0]); err != nil {
			return eris.Wrap(err, "records delete")
		}
		fmt.Fprintf(os.Stdout, "Deleted record %s.\n", args[0])
		return nil
	},
}

// -- records pipeline --

var recordsPipelineCmd = &cobra.Command{
	Use:   "pipeline <record-id>",
	Short: "Mark a record as added to the sales pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.MarkPipelined(ctx, owner, args[0]); err != nil {
			return eris.Wrap(err, "records pipeline")
		}
		fmt.Fprintf(os.Stdout, "Record %s added to pipeline.\n", args[0])
		return nil
	},
}

// -- records notes --

var recordsNotesCmd = &cobra.Command{
	Use:   "notes <record-id> <text>",
	Short: "Replace a record's notes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		owner, _ := cmd.Flags().GetString("owner")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpdateNotes(ctx, owner, args[0], args[1]); err != nil {
			return eris.Wrap(err, "records notes")
		}
		fmt.Fprintf(os.Stdout, "Updated notes on record %s.\n", args[0])
		return nil
	},
}

func recordFilterFromFlags(cmd *cobra.Command) (store.RecordFilter, error) {
	owner, _ := cmd.Flags().GetString("owner")
	query, _ := cmd.Flags().GetString("query")
	batch, _ := cmd.Flags().GetString("batch")
	sortField, _ := cmd.Flags().GetString("sort")
	desc, _ := cmd.Flags().GetBool("desc")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	pipelined, _ := cmd.Flags().GetString("pipelined")

	filter := store.RecordFilter{
		OwnerID:   owner,
		BatchID:   batch,
		Query:     query,
		SortField: sortField,
		Desc:      desc,
		Limit:     limit,
		Offset:    offset,
	}

	switch strings.ToLower(pipelined) {
	case "", "any":
	case "yes", "true":
		v := true
		filter.Pipelined = &v
	case "no", "false":
		v := false
		filter.Pipelined = &v
	default:
		return filter, eris.Errorf("records list: invalid --pipelined %q, want yes, no or any", pipelined)
	}
	return filter, nil
}

func formatRecordsList(out io.Writer, page *store.RecordPage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"ID"}
	rule := []string{"--"}
	for _, c := range listColumns {
		header = append(header, strings.ToUpper(c))
		rule = append(rule, strings.Repeat("-", len(c)))
	}
	header = append(header, "PIPELINE")
	rule = append(rule, "--------")
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	_, _ = fmt.Fprintln(w, strings.Join(rule, "\t"))

	for _, r := range page.Records {
		cells := []string{truncateID(r.ID)}
		for _, c := range listColumns {
			cells = append(cells, clip(r.Data[c], 30))
		}
		cells = append(cells, pipelineMark(r))
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nShowing %d of %d records.\n", len(page.Records), page.Total)
}

func pipelineMark(r model.ImportedRecord) string {
	if r.IsPipelined {
		return "yes"
	}
	return "-"
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func init() {
	recordsCmd.PersistentFlags().String("owner", "", "owner id")
	_ = recordsCmd.MarkPersistentFlagRequired("owner")

	recordsListCmd.Flags().String("query", "", "case-insensitive text search across record fields and notes")
	recordsListCmd.Flags().String("batch", "", "only records from this batch")
	recordsListCmd.Flags().String("sort", "", "sort by a field id (default created_at)")
	recordsListCmd.Flags().Bool("desc", false, "sort descending")
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display")
	recordsListCmd.Flags().Int("offset", 0, "number of records to skip")
	recordsListCmd.Flags().String("pipelined", "any", "filter by pipeline status (yes, no, any)")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
	recordsCmd.AddCommand(recordsPipelineCmd)
	recordsCmd.AddCommand(recordsNotesCmd)
	rootCmd.AddCommand(recordsCmd)
}
