package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify SMTP credentials by opening an authenticated session",
	Long: `Test connects to the configured SMTP relay, performs the STARTTLS
upgrade, and authenticates. It reports the failing step in human terms when
something is wrong, so credentials can be validated before a campaign starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.SMTPConfigured() {
			return fmt.Errorf("smtp host, email, and password must be configured")
		}

		session := newSMTPSession(cfg)
		defer session.Close()

		if err := session.Test(cmd.Context()); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "connection OK: authenticated as %s at %s:%d\n",
			cfg.SMTP.Email, cfg.SMTP.Host, cfg.SMTP.Port)
		return nil
	},
}
