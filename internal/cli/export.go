package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/pickup-roster-api/internal/service"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	Type   string
	Output string
}

// ExportResult is the export command payload.
type ExportResult struct {
	File  string `json:"file"`
	Bytes int    `json:"bytes"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write today's roster sheet as CSV or PDF",
		Long: `Write today's roster sheet. CSV goes to stdout unless --output is given; PDF always
needs --output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			if opts.Type == service.ExportPDF && opts.Output == "" {
				return out.Fail("export", invalid(fmt.Errorf("--output is required for pdf")))
			}
			backend, err := rootOpts.open(cmd.Context())
			if err != nil {
				return out.Fail("open backend", err)
			}
			defer backend.Close() //nolint:errcheck

			_, state, err := loadDay(cmd.Context(), backend)
			if err != nil {
				return out.Fail("load roster", err)
			}
			sheet, err := service.NewRosterExporter(backend.Location).Export(state.Snapshot(), opts.Type)
			if err != nil {
				return out.Fail("export", err)
			}

			if opts.Output == "" {
				_, err := cmd.OutOrStdout().Write(sheet.Body)
				return err
			}
			if err := os.WriteFile(opts.Output, sheet.Body, 0o644); err != nil {
				return out.Fail("write export", err)
			}
			return out.Success(fmt.Sprintf("wrote %s (%d bytes)", opts.Output, len(sheet.Body)), ExportResult{File: opts.Output, Bytes: len(sheet.Body)})
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", service.ExportCSV, "sheet format (csv|pdf)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file")

	return cmd
}
