package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/mailcast/internal/campaign"
	"github.com/shineum/mailcast/internal/config"
	"github.com/shineum/mailcast/internal/recipient"
	"github.com/shineum/mailcast/internal/transport"
	"github.com/shineum/mailcast/internal/transport/ses"
	smtptransport "github.com/shineum/mailcast/internal/transport/smtp"
	"github.com/shineum/mailcast/internal/transport/stdout"
)

var (
	recipientsFile string
	templateFile   string
	subject        string
	imageFlags     []string
	delayOverride  float64
	transportName  string
	dryRun         bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a personalized campaign to every parsed recipient",
	Long: `Send parses the recipients file, renders the HTML template once per
recipient, and dispatches the messages sequentially with a throttle between
sends. A failure for one recipient never aborts the campaign; the run ends
with a summary of sent and failed deliveries.

Use --dry-run to print envelopes instead of sending.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		rawRecipients, err := os.ReadFile(recipientsFile)
		if err != nil {
			return fmt.Errorf("failed to read recipients file: %w", err)
		}

		var htmlTemplate string
		if templateFile != "" {
			data, err := os.ReadFile(templateFile)
			if err != nil {
				return fmt.Errorf("failed to read template file: %w", err)
			}
			htmlTemplate = string(data)
		}

		records := recipient.Parse(string(rawRecipients))
		if len(records) == 0 {
			return fmt.Errorf("no valid recipients found in %s", recipientsFile)
		}

		images, err := parseImageFlags(imageFlags)
		if err != nil {
			return err
		}

		trans, err := buildTransport(ctx, cfg)
		if err != nil {
			return err
		}

		delay := cfg.Delay()
		if cmd.Flags().Changed("delay") {
			delay = time.Duration(delayOverride * float64(time.Second))
		}

		from := cfg.SMTP.Email
		if trans.Name() == "ses" && cfg.SES.Sender != "" {
			from = cfg.SES.Sender
		}

		dispatcher := campaign.New(trans,
			campaign.WithProgress(func(done, total int) {
				fmt.Fprintf(os.Stdout, "%d / %d processed\n", done, total)
			}),
		)

		_, summary, runErr := dispatcher.Run(ctx, campaign.Request{
			Subject:      subject,
			HTMLTemplate: htmlTemplate,
			Recipients:   records,
			StaticImages: images,
			From:         from,
			ReplyTo:      cfg.SMTP.ReplyTo,
			Delay:        delay,
			QRDir:        cfg.Send.QRDir,
		})

		fmt.Fprintf(os.Stdout, "campaign finished: %d sent, %d failed, %d total\n",
			summary.Sent, summary.Failed, summary.Total)

		if runErr != nil {
			return fmt.Errorf("campaign did not complete: %w", runErr)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&recipientsFile, "recipients", "r", "", "path to recipients text file")
	sendCmd.Flags().StringVarP(&templateFile, "template", "t", "", "path to HTML template file")
	sendCmd.Flags().StringVarP(&subject, "subject", "s", "", "message subject (a date-based subject is used when empty)")
	sendCmd.Flags().StringArrayVar(&imageFlags, "image", nil, "inline image as cid=path (repeatable)")
	sendCmd.Flags().Float64Var(&delayOverride, "delay", 0, "seconds to wait between sends (overrides config)")
	sendCmd.Flags().StringVar(&transportName, "transport", "", "delivery backend: smtp, ses, or stdout (overrides config)")
	sendCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print envelopes instead of sending")
	sendCmd.MarkFlagRequired("recipients")
}

// parseImageFlags converts repeated cid=path flags into the static image map.
func parseImageFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	images := make(map[string]string, len(flags))
	for _, f := range flags {
		cid, path, ok := strings.Cut(f, "=")
		if !ok || cid == "" || path == "" {
			return nil, fmt.Errorf("invalid --image value %q, expected cid=path", f)
		}
		images[cid] = path
	}
	return images, nil
}

// buildTransport chooses the delivery backend: the --dry-run and --transport
// flags win over configuration; with nothing set, SMTP is used when
// configured, then SES, then stdout.
func buildTransport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	name := cfg.Transport
	if transportName != "" {
		name = transportName
	}
	if dryRun {
		name = "stdout"
	}

	switch name {
	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, fmt.Errorf("smtp transport selected but smtp host, email, and password are required")
		}
		return newSMTPSession(cfg), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("ses transport selected but SES region and sender are required")
		}
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})

	case "stdout":
		return stdout.New(), nil

	case "":
		if cfg.SMTPConfigured() {
			return newSMTPSession(cfg), nil
		}
		if cfg.SESConfigured() {
			return ses.New(ctx, ses.Config{
				Region:          cfg.SES.Region,
				AccessKeyID:     cfg.SES.AccessKeyID,
				SecretAccessKey: cfg.SES.SecretAccessKey,
			})
		}
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

func newSMTPSession(cfg *config.Config) *smtptransport.Session {
	return smtptransport.New(smtptransport.Config{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Email:              cfg.SMTP.Email,
		Password:           cfg.SMTP.Password,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		CAFile:             cfg.SMTP.CAFile,
	})
}
