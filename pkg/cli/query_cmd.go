package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pagequery/internal/api"
	"pagequery/internal/domain"
)

type queryOptions struct {
	refID         string
	from          string
	to            string
	format        string
	wait          bool
	database      string
	table         string
	measure       string
	vars          []string
	interval      time.Duration
	maxDataPoints int64
	file          string
}

func newQueryCmd(client *Client) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run a query and stream its pages",
		Long: `Run a query and stream its pages as the server produces them.

The SQL is taken from the arguments, from --file, or from stdin when the
argument is "-". With JSON output every streamed response is written as one
NDJSON line; table output prints each query's final frames.`,
		Example: `  tsq query 'SELECT * FROM $__database.$__table WHERE $__timeFilter'
  tsq query --from now-6h --wait --format time_series -o json < query.sql`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawSQL, err := readSQL(cmd.InOrStdin(), args, opts.file)
			if err != nil {
				return err
			}
			req, err := opts.request(rawSQL, time.Now())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				return client.QueryRaw(cmd.Context(), req, cmd.OutOrStdout())
			}
			return streamTable(cmd, client, req)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.refID, "ref-id", "A", "Reference id of the query")
	f.StringVar(&opts.from, "from", "now-1h", "Range start: RFC3339, unix milliseconds or now[-duration]")
	f.StringVar(&opts.to, "to", "now", "Range end: RFC3339, unix milliseconds or now[-duration]")
	f.StringVar(&opts.format, "format", "table", "Result shape (table, time_series)")
	f.BoolVar(&opts.wait, "wait", false, "Only deliver the final merged result")
	f.StringVar(&opts.database, "database", "", "Value of $__database")
	f.StringVar(&opts.table, "table", "", "Value of $__table")
	f.StringVar(&opts.measure, "measure", "", "Value of $__measure")
	f.StringArrayVar(&opts.vars, "var", nil, "Template variable as name=value[,value...] (repeatable)")
	f.DurationVar(&opts.interval, "interval", 0, "Override $__interval")
	f.Int64Var(&opts.maxDataPoints, "max-data-points", 0, "Point budget of the request")
	f.StringVarP(&opts.file, "file", "f", "", "Read SQL from file")

	return cmd
}

func (o queryOptions) request(rawSQL string, now time.Time) (api.QueryRequest, error) {
	from, err := parseTimeArg(o.from, now)
	if err != nil {
		return api.QueryRequest{}, fmt.Errorf("--from: %w", err)
	}
	to, err := parseTimeArg(o.to, now)
	if err != nil {
		return api.QueryRequest{}, fmt.Errorf("--to: %w", err)
	}
	if to.Before(from) {
		return api.QueryRequest{}, fmt.Errorf("--to %s is before --from %s", o.to, o.from)
	}
	format, err := parseFormat(o.format)
	if err != nil {
		return api.QueryRequest{}, err
	}
	vars, err := parseVars(o.vars)
	if err != nil {
		return api.QueryRequest{}, err
	}
	return api.QueryRequest{
		Queries: []domain.Query{{
			RefID:         o.refID,
			RawQuery:      rawSQL,
			Database:      o.database,
			Table:         o.table,
			Measure:       o.measure,
			WaitForResult: o.wait,
			Format:        format,
		}},
		Range:         domain.TimeRange{From: from, To: to},
		IntervalMs:    o.interval.Milliseconds(),
		MaxDataPoints: o.maxDataPoints,
		ScopedVars:    vars,
	}, nil
}

// streamTable prints a progress line per streamed response on stderr and
// the frames of every finished query on stdout.
func streamTable(cmd *cobra.Command, client *Client, req api.QueryRequest) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	var failed []error
	err := client.Query(cmd.Context(), req, func(line api.ResponseLine) error {
		rows := 0
		for _, fr := range line.Frames {
			if n, err := fr.RowLen(); err == nil {
				rows += n
			}
		}
		_, _ = fmt.Fprintf(errOut, "%s: %s (%d rows)\n", line.RefID, line.State, rows)
		switch line.State {
		case domain.StateDone:
			for _, fr := range line.Frames {
				PrintFrame(out, fr)
			}
		case domain.StateError:
			failed = append(failed, fmt.Errorf("query %s: %s", line.RefID, line.Error))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Join(failed...)
}

func readSQL(stdin io.Reader, args []string, file string) (string, error) {
	var raw string
	switch {
	case file != "":
		data, err := os.ReadFile(file) //nolint:gosec // user-chosen path
		if err != nil {
			return "", fmt.Errorf("read SQL file: %w", err)
		}
		raw = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read SQL from stdin: %w", err)
		}
		raw = string(data)
	default:
		raw = strings.Join(args, " ")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("a SQL query is required")
	}
	return raw, nil
}

// parseTimeArg accepts "now", "now-<duration>", RFC3339 or unix milliseconds.
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "now" {
		return now, nil
	}
	if rest, ok := strings.CutPrefix(s, "now-"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative time %q: %w", s, err)
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func parseFormat(s string) (domain.FormatOption, error) {
	switch s {
	case "", "table":
		return domain.FormatTable, nil
	case "time_series", "timeseries":
		return domain.FormatTimeSeries, nil
	default:
		return 0, fmt.Errorf("unsupported format %q: use 'table' or 'time_series'", s)
	}
}

func parseVars(raw []string) (domain.ScopedVars, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	vars := make(domain.ScopedVars, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "$")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: want name=value", kv)
		}
		values := strings.Split(value, ",")
		vars[name] = domain.VariableValue{Text: strings.Join(values, " + "), Values: values}
	}
	return vars, nil
}
