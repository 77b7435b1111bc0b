package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/internal/ingest"
	"github.com/opencarto/territoria/internal/resilience"
	"github.com/opencarto/territoria/pkg/opendata"
)

var (
	ingestLevel      string
	ingestSourceDate string

	runURL         string
	runStationsURL string
	runFTPPath     string
	runFTPColumn   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run criterion ingestion",
}

var ingestRunCmd = &cobra.Command{
	Use:   "run <criterion-id>",
	Short: "Fetch a criterion's source and ingest it",
	Long:  "Fetches raw observations from the configured source, normalizes them into 0-100 scores, computes national ranks, and upserts the results.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		criterion, err := env.reg.Get(ctx, args[0])
		if err != nil {
			return err
		}
		level, err := geo.ParseLevel(ingestLevel)
		if err != nil {
			return err
		}
		sourceDate, err := parseSourceDate(ingestSourceDate)
		if err != nil {
			return err
		}
		index, err := env.loadIndex(ctx)
		if err != nil {
			return err
		}

		runner := ingest.NewRunner(env.store, index, level, cfg.Ingest.MapWorkers)

		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Ingest.MaxRetries
		client := opendata.NewClient(opendata.ClientOptions{
			UserAgent: cfg.Sources.UserAgent,
			Retry:     retry,
		})

		var summary *ingest.Summary
		switch {
		case runURL != "":
			observations, err := client.FetchObservations(ctx, runURL)
			if err != nil {
				return eris.Wrap(err, "fetch observations")
			}
			summary, err = runner.Run(ctx, criterion, observations, sourceDate)
			if err != nil {
				return err
			}
		case runStationsURL != "":
			readings, err := client.FetchStations(ctx, runStationsURL)
			if err != nil {
				return eris.Wrap(err, "fetch stations")
			}
			summary, err = runner.RunStations(ctx, criterion, readings, sourceDate)
			if err != nil {
				return err
			}
		case runFTPPath != "":
			archive := opendata.NewFTPArchive(opendata.FTPArchiveOptions{
				Addr:     cfg.Sources.FTP.Addr,
				User:     cfg.Sources.FTP.User,
				Password: cfg.Sources.FTP.Password,
			})
			readings, err := archive.FetchStations(ctx, runFTPPath, runFTPColumn)
			if err != nil {
				return eris.Wrap(err, "fetch ftp archive")
			}
			summary, err = runner.RunStations(ctx, criterion, readings, sourceDate)
			if err != nil {
				return err
			}
		default:
			return eris.New("one of --url, --stations-url, or --ftp-path is required")
		}

		printSummary(summary)
		return nil
	},
}

var ingestCSVCmd = &cobra.Command{
	Use:   "csv <criterion-id> <file>",
	Short: "Ingest a criterion from a local CSV file",
	Long:  "Loads observations from a CSV with a value column and a code or name column. Bad rows are skipped and counted.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		criterion, err := env.reg.Get(ctx, args[0])
		if err != nil {
			return err
		}
		level, err := geo.ParseLevel(ingestLevel)
		if err != nil {
			return err
		}
		sourceDate, err := parseSourceDate(ingestSourceDate)
		if err != nil {
			return err
		}
		index, err := env.loadIndex(ctx)
		if err != nil {
			return err
		}

		f, err := os.Open(args[1])
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck

		result, err := ingest.LoadCSV(f, index, level)
		if err != nil {
			return err
		}

		runner := ingest.NewRunner(env.store, index, level, cfg.Ingest.MapWorkers)
		summary, err := runner.Run(ctx, criterion, result.Observations, sourceDate)
		if err != nil {
			return err
		}
		summary.Skipped += result.Skipped

		printSummary(summary)
		return nil
	},
}

func parseSourceDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "parse source date")
	}
	return t, nil
}

func printSummary(s *ingest.Summary) {
	fmt.Printf("run %s: criterion=%s territories=%d inserted=%d failed=%d skipped=%d elapsed=%s\n",
		s.RunID, s.CriterionID, s.Territories, s.Inserted, s.Failed, s.Skipped, s.Elapsed.Round(time.Millisecond))
}

func init() {
	ingestCmd.PersistentFlags().StringVar(&ingestLevel, "level", "communes", "territory level (regions, departements, communes)")
	ingestCmd.PersistentFlags().StringVar(&ingestSourceDate, "source-date", "", "observation date (YYYY-MM-DD, default today)")

	ingestRunCmd.Flags().StringVar(&runURL, "url", "", "JSON observations endpoint (code-keyed)")
	ingestRunCmd.Flags().StringVar(&runStationsURL, "stations-url", "", "JSON station readings endpoint")
	ingestRunCmd.Flags().StringVar(&runFTPPath, "ftp-path", "", "station archive path on the configured FTP host")
	ingestRunCmd.Flags().StringVar(&runFTPColumn, "ftp-column", "", "measurement column in the FTP archive")

	ingestCmd.AddCommand(ingestRunCmd)
	ingestCmd.AddCommand(ingestCSVCmd)
	rootCmd.AddCommand(ingestCmd)
}
