package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/mailcast/internal/recipient"
)

var previewRecipientsFile string

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Parse a recipients file and print the resulting records",
	Long: `Preview runs the recipient parser without sending anything, showing
which lines survive parsing and how their columns were interpreted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}

		raw, err := os.ReadFile(previewRecipientsFile)
		if err != nil {
			return fmt.Errorf("failed to read recipients file: %w", err)
		}

		records := recipient.Parse(string(raw))
		for i, rec := range records {
			qr := rec.QRCode
			if qr == "" {
				qr = "-"
			}
			fmt.Fprintf(os.Stdout, "%3d  %-40s  name=%q  link=%q  qr=%s\n",
				i+1, rec.Email, rec.Name, rec.Link, qr)
		}
		fmt.Fprintf(os.Stdout, "%d valid recipient(s)\n", len(records))
		return nil
	},
}

func init() {
	previewCmd.Flags().StringVarP(&previewRecipientsFile, "recipients", "r", "", "path to recipients text file")
	previewCmd.MarkFlagRequired("recipients")
}
