package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kanveo/kanveo-cli/internal/dedupe"
	"github.com/kanveo/kanveo-cli/internal/fetcher"
	"github.com/kanveo/kanveo-cli/internal/importer"
	"github.com/kanveo/kanveo-cli/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CSV or Excel prospect list",
	Long: `Parses a spreadsheet, proposes a column mapping onto the canonical fields,
flags duplicate keys, and commits the rows as a new import batch.

Override the proposed mapping with repeated --map flags. Overridden columns
are cleared before any field is assigned, so flag order does not matter and
two columns can swap fields:

  kanveo import --file leads.csv --owner u1 --map "Raison sociale=company" --map "Note=ignore"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		rawURL, _ := cmd.Flags().GetString("url")
		owner, _ := cmd.Flags().GetString("owner")
		maps, _ := cmd.Flags().GetStringArray("map")
		keyField, _ := cmd.Flags().GetString("key-field")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if (file == "") == (rawURL == "") {
			return eris.New("import: exactly one of --file or --url is required")
		}

		overrides, err := parseMappingFlags(maps)
		if err != nil {
			return err
		}

		reg, err := initRegistry()
		if err != nil {
			return err
		}

		name, body, err := openSource(ctx, file, rawURL)
		if err != nil {
			return err
		}
		defer body.Close() //nolint:errcheck

		sess := importer.NewSession(importer.Options{
			OwnerID:            owner,
			Registry:           reg,
			AcceptedExtensions: cfg.Import.AcceptedExtensions,
			KeyField:           cfg.Import.KeyField,
			ChunkSize:          cfg.Import.ChunkSize,
			MaxRows:            cfg.Import.MaxRows,
		})

		if err := sess.SelectFile(name); err != nil {
			return err
		}
		parser := fetcher.SheetParser{MaxBytes: cfg.Import.MaxFileBytes()}
		if err := sess.Parse(ctx, parser, body); err != nil {
			return err
		}
		if err := applyOverrides(sess, overrides); err != nil {
			return err
		}
		if keyField != "" {
			if err := sess.SetKeyField(keyField); err != nil {
				return err
			}
		}

		snap := sess.Snapshot()
		formatMapping(os.Stdout, snap)
		formatDuplicates(os.Stdout, dedupe.Preview(snap.Duplicates, cfg.Import.DuplicatePreview), len(snap.Duplicates))

		if dryRun {
			fmt.Fprintln(os.Stderr, "Dry run: nothing committed.")
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if existing := sess.CheckExisting(ctx, st); len(existing) > 0 {
			fmt.Fprintf(os.Stderr, "%d %s value(s) already on file for this owner.\n", len(existing), snap.KeyField)
		}

		res, err := sess.Commit(ctx, st, func(p model.Progress) {
			zap.L().Info("import: progress",
				zap.Int("current", p.Current),
				zap.Int("total", p.Total),
			)
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Imported %d of %d rows into batch %s (%d skipped).\n",
			res.Committed, res.Total, res.BatchID, res.Skipped)
		return nil
	},
}

type mappingOverride struct {
	header string
	field  string
}

// parseMappingFlags splits "header=field" pairs on the last "=" so headers
// may themselves contain one.
func parseMappingFlags(values []string) ([]mappingOverride, error) {
	out := make([]mappingOverride, 0, len(values))
	for _, v := range values {
		i := strings.LastIndex(v, "=")
		if i <= 0 || i == len(v)-1 {
			return nil, eris.Errorf("import: invalid --map %q, want header=field", v)
		}
		out = append(out, mappingOverride{
			header: v[:i],
			field:  strings.TrimSpace(v[i+1:]),
		})
	}
	return out, nil
}

// applyOverrides clears every overridden column first, then assigns the
// requested fields.
func applyOverrides(sess *importer.Session, overrides []mappingOverride) error {
	for _, o := range overrides {
		if err := sess.SetMapping(o.header, model.IgnoreField); err != nil {
			return eris.Wrapf(err, "import: map %q", o.header)
		}
	}
	for _, o := range overrides {
		if o.field == model.IgnoreField {
			continue
		}
		if err := sess.SetMapping(o.header, o.field); err != nil {
			return eris.Wrapf(err, "import: map %q", o.header)
		}
	}
	return nil
}

func openSource(ctx context.Context, file, rawURL string) (string, io.ReadCloser, error) {
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return "", nil, eris.Wrapf(err, "import: open %s", file)
		}
		return filepath.Base(file), f, nil
	}

	body, name, err := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}).Download(ctx, rawURL)
	if err != nil {
		return "", nil, eris.Wrap(err, "import: download")
	}
	return name, body, nil
}

func formatMapping(out io.Writer, snap importer.Snapshot) {
	confidence := make(map[string]model.MatchConfidence, len(snap.Suggestions))
	for _, s := range snap.Suggestions {
		confidence[s.Header] = s.Confidence
	}

	_, _ = fmt.Fprintf(out, "%s: %d rows, %d columns\n\n", snap.FileName, snap.RowCount, len(snap.Headers))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLUMN\tFIELD\tMATCH")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----")
	for _, h := range snap.Headers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", h, snap.Mapping[h], confidence[h])
	}
	_ = w.Flush()
}

func formatDuplicates(out io.Writer, preview []model.DuplicateWarning, total int) {
	if total == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "\n%d duplicate key value(s):\n", total)
	for _, d := range preview {
		_, _ = fmt.Fprintf(out, "  %s (x%d)\n", d.KeyValue, d.Count)
	}
	if more := total - len(preview); more > 0 {
		_, _ = fmt.Fprintf(out, "  ... and %d more\n", more)
	}
}

func init() {
	importCmd.Flags().String("file", "", "path to a .csv, .txt or .xlsx file")
	importCmd.Flags().String("url", "", "download the file from a URL instead")
	importCmd.Flags().String("owner", "", "owner id the batch belongs to")
	importCmd.Flags().StringArray("map", nil, "override a column mapping as header=field (repeatable)")
	importCmd.Flags().String("key-field", "", "field used for duplicate detection (default from config)")
	importCmd.Flags().Bool("dry-run", false, "show the mapping and duplicates without committing")
	_ = importCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(importCmd)
}
