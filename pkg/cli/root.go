// Package cli implements tsq, the command-line client of the pagequery
// server.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultHost = "http://localhost:8080"

// offlineAnnotation marks commands that never talk to the server.
const offlineAnnotation = "tsq/offline"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == outputJSON {
			errObj := map[string]any{"error": err.Error()}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
				errObj["code"] = apiErr.Code
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host    string
		token   string
		output  string
		profile string
	)

	client := NewClient(defaultHost, "")

	rootCmd := &cobra.Command{
		Use:           "tsq",
		Short:         "Paginated time-series query CLI",
		Long:          "Command-line interface for the pagequery server. Streams paged query results as they arrive.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return err
			}
			p, err := cfg.ActiveProfile(profile)
			if err != nil {
				return err
			}

			// Precedence: flag > env > profile > default
			flags := cmd.Root().PersistentFlags()
			if !flags.Changed("host") {
				if v := os.Getenv("TSQ_HOST"); v != "" {
					host = v
				} else if p.Host != "" {
					host = p.Host
				}
			}
			if !flags.Changed("token") {
				if v := os.Getenv("TSQ_TOKEN"); v != "" {
					token = v
				} else if p.Token != "" {
					token = p.Token
				}
			}
			if !flags.Changed("output") {
				if v := os.Getenv("TSQ_OUTPUT"); v != "" {
					output = v
				} else if p.Output != "" {
					output = p.Output
				}
				_ = flags.Set("output", output)
			}
			if err := validateOutputFormat(output); err != nil {
				return err
			}

			if isOffline(cmd) {
				return nil
			}
			if err := validateHostURL(host); err != nil {
				return err
			}
			client.BaseURL = trimHost(host)
			client.Token = token
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", defaultHost, "Server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT bearer token")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")

	rootCmd.AddCommand(newQueryCmd(client))
	rootCmd.AddCommand(newCancelCmd(client))
	rootCmd.AddCommand(newVariablesCmd(client))
	rootCmd.AddCommand(newDatabasesCmd(client))
	rootCmd.AddCommand(newTablesCmd(client))
	rootCmd.AddCommand(newMeasuresCmd(client))
	rootCmd.AddCommand(newHistoryCmd(client))
	rootCmd.AddCommand(newHealthCmd(client))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func isOffline(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[offlineAnnotation] == "true" {
			return true
		}
	}
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "completion"
}
