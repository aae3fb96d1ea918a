package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kanveo/kanveo-cli/internal/registry"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the canonical fields columns can map to",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := initRegistry()
		if err != nil {
			return err
		}
		formatFields(os.Stdout, reg.Fields())
		return nil
	},
}

func formatFields(out io.Writer, fields []registry.FieldDef) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLABEL\tTYPE\tSYNONYMS")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t--------")
	for _, f := range fields {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Label, f.Type, strings.Join(f.Synonyms, ", "))
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
}
