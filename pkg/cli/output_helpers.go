package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// getOutputFormat returns the effective output format. When neither the flag
// nor a profile chose one, table output is used on a terminal and JSON
// everywhere else.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	if v != "" {
		return v
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return outputTable
	}
	return outputJSON
}

func validateOutputFormat(output string) error {
	if output != "" && output != outputTable && output != outputJSON {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// PrintTable writes rows under upper-cased column headers.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = strings.ToUpper(c)
	}
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintFrame renders a data frame as a table. Field labels are appended to
// the column name so wide series stay distinguishable.
func PrintFrame(w io.Writer, frame *data.Frame) {
	if frame == nil || len(frame.Fields) == 0 {
		return
	}
	if frame.Name != "" {
		_, _ = fmt.Fprintf(w, "# %s\n", frame.Name)
	}
	columns := make([]string, len(frame.Fields))
	for i, f := range frame.Fields {
		columns[i] = f.Name
		if len(f.Labels) > 0 {
			columns[i] += " " + f.Labels.String()
		}
	}
	n, _ := frame.RowLen()
	rows := make([][]string, n)
	for r := range n {
		row := make([]string, len(frame.Fields))
		for c, f := range frame.Fields {
			row[c] = formatCell(f, r)
		}
		rows[r] = row
	}
	PrintTable(w, columns, rows)
}

func formatCell(f *data.Field, idx int) string {
	v, ok := f.ConcreteAt(idx)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case json.RawMessage:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
