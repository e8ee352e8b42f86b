// storygraph-import imports StoryGraph reading history exports into the
// backend catalog. It runs as an AWS Lambda fed by SQS messages carrying
// S3 upload notifications, or locally against a saved event.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/urfave/cli/v2"

	"github.com/shelfnotes/storygraph-import/internal/database"
	"github.com/shelfnotes/storygraph-import/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:    "storygraph-import",
		Usage:   "Import StoryGraph CSV exports into the catalog backend",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log a diagnostic line per lookup, attempt and failure",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "lambda",
				Usage:  "Serve invocations from the AWS Lambda runtime",
				Action: serveLambda,
			},
			{
				Name:  "invoke",
				Usage: "Run one invocation from a saved SQS event and print the response",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "event",
						Aliases:  []string{"e"},
						Usage:    "SQS event JSON `FILE`",
						Required: true,
					},
				},
				Action: invokeOnce,
			},
			{
				Name:  "orphans",
				Usage: "List books created without a user-book record",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "journal-driver",
						Usage:   "Journal database type (sqlite, postgres, mysql)",
						EnvVars: []string{"JOURNAL_DRIVER"},
						Value:   "sqlite",
					},
					&cli.StringFlag{
						Name:    "journal",
						Usage:   "Path of the SQLite journal",
						EnvVars: []string{"JOURNAL_PATH"},
					},
					&cli.StringFlag{
						Name:    "journal-dsn",
						Usage:   "DSN of a PostgreSQL or MySQL journal",
						EnvVars: []string{"JOURNAL_DSN"},
					},
					&cli.IntFlag{
						Name:  "owner",
						Usage: "Only list books of this user id",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print JSON instead of a table",
					},
				},
				Action: listOrphans,
			},
		},
		// Inside the Lambda runtime the binary is started without arguments
		Action: func(c *cli.Context) error {
			if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
				return serveLambda(c)
			}
			return cli.ShowAppHelp(c)
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

func serveLambda(c *cli.Context) error {
	a, err := newApp(c.Context, c.String("config"), c.Bool("verbose"))
	if err != nil {
		return err
	}
	// The runtime never returns control, the journal is closed with the process
	lambda.Start(a.handler.Handle)
	return nil
}

func invokeOnce(c *cli.Context) error {
	data, err := os.ReadFile(c.String("event"))
	if err != nil {
		return fmt.Errorf("failed to read event file: %w", err)
	}

	var event events.SQSEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("invalid event JSON: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c.String("config"), c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.handler.Handle(ctx, event)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func listOrphans(c *cli.Context) error {
	logger.Setup(logger.Config{
		Level:      "warn",
		Format:     logger.FormatConsole,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	})

	db, err := openJournal(c.String("journal-driver"), c.String("journal"), c.String("journal-dsn"), logger.Get())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	orphans, err := database.NewRepository(db, logger.Get()).ListOrphans(ctx, c.Int("owner"))
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(orphans)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BOOK ID\tOWNER\tTITLE\tFILE\tROW\tRUN")
	for _, o := range orphans {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n", o.BookID, o.OwnerID, o.Title, o.ObjectKey, o.Row, o.RunID)
	}
	return w.Flush()
}
