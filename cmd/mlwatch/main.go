// Command mlwatch runs the metrics pipeline once for a completed test run:
// it collects the run's event logs, aggregates them into final metrics,
// persists them next to prior runs and refreshes the regression alerts.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mlwatch-io/mlwatch"
)

func main() {
	var (
		triggerPath  = flag.String("trigger", "-", "trigger payload file, or - for stdin")
		settingsPath = flag.String("settings", "mlwatch.yaml", "runtime settings file")
		logLevel     = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "bad log level %q\n", *logLevel)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*triggerPath, *settingsPath); err != nil {
		slog.Error("pipeline run failed", "error", err)
		os.Exit(1)
	}
}

func run(triggerPath, settingsPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload, err := readTrigger(triggerPath)
	if err != nil {
		return err
	}
	trigger, err := mlwatch.DecodeTrigger(payload)
	if err != nil {
		return err
	}
	if err := trigger.Validate(); err != nil {
		return err
	}

	settings, err := mlwatch.LoadSettings(settingsPath)
	if err != nil {
		return err
	}

	handler := mlwatch.Handler{}

	if bucket, prefix, ok := mlwatch.ParseS3ModelDir(trigger.ModelDir); ok {
		source, err := mlwatch.NewS3EventSource(ctx, mlwatch.S3EventSourceConfig{
			Bucket:          bucket,
			Prefix:          prefix,
			Region:          settings.S3.Region,
			Endpoint:        settings.S3.Endpoint,
			AccessKeyID:     settings.S3.AccessKeyID,
			SecretAccessKey: settings.S3.SecretAccessKey,
			UsePathStyle:    settings.S3.UsePathStyle,
		})
		if err != nil {
			return err
		}
		handler.Source = source
	} else {
		handler.Source = mlwatch.NewDirEventSource(trigger.ModelDir)
	}

	if dataset, table, ok := storeTable(trigger); ok {
		store, err := mlwatch.NewSQLiteStore(mlwatch.SQLiteStoreConfig{
			Path:       settings.Store.Path,
			Dataset:    dataset,
			Table:      table,
			MaxRetries: settings.Store.MaxRetries,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		handler.Store = store
	}

	if trigger.Regression != nil && trigger.Regression.WriteToStackdriver {
		handler.Alerts = mlwatch.NewHTTPAlertBackend(settings.Monitoring.AlertAPIURL, settings.Monitoring.Token)
		if settings.Monitoring.RemoteWriteURL != "" {
			handler.Writer = mlwatch.NewRemoteWriter(settings.Monitoring.RemoteWriteURL, settings.Monitoring.Token)
		}
	}

	final, err := handler.Run(ctx, trigger)
	if err != nil {
		return err
	}
	slog.Info("pipeline run complete", "test", trigger.TestName, "metrics", len(final))
	return nil
}

// storeTable picks the history table: the regression config's when set,
// otherwise the collection sink. Both usually name the same table.
func storeTable(trigger *mlwatch.Trigger) (dataset, table string, ok bool) {
	if r := trigger.Regression; r != nil && r.BigQueryDatasetName != "" && r.BigQueryTableName != "" {
		return r.BigQueryDatasetName, r.BigQueryTableName, true
	}
	if c := trigger.Collection; c != nil && c.WriteToBigQuery {
		return c.BigQueryDatasetName, c.BigQueryTableName, true
	}
	return "", "", false
}

func readTrigger(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read trigger from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trigger: %w", err)
	}
	return data, nil
}
