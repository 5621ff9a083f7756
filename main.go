package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PERFTEST"

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func configureLogging(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	return nil
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mongodb-perftest",
		Short:         "Runs a deterministic load against multiple MongoDBs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := configureLogging(v.GetString("log_level")); err != nil {
				return err
			}
			config := configFromViper(v)
			err := run(cmd.Context(), config)
			if err != nil {
				log.Error(err)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.Int("num-runs", defaultNumRuns, "The number of runs in the test")
	f.Int("num-docs", defaultNumDocs, "The number of docs per test run")
	f.Int("num-threads", defaultNumThreads, "Num of threads to run parallel tests on")
	f.Bool("cumul-threads", false, "Build up bulk insert tests from 1 to num-threads in powers of 2")
	f.Int("batch-size", defaultBatchSize, "The batch size for inserts")
	f.String("db-conn-strings", "", "Semicolon delimited list of connection strings")
	f.String("db-name", defaultDBName, "Name of the database into which data will be inserted")
	f.String("document-provider", defaultDocumentProvider, "Type of document to insert/read: "+strings.Join(ProviderNames(), ", ")+" or all")
	f.String("template-dir", "", "Directory holding 50kb.json and 1mb.json (default: built-in templates)")
	f.Duration("op-timeout", 0, "Timeout of a single database call, 0 disables it")
	f.Int("single-insert-trials", defaultSingleInsertTrials, "The number of trials of the single insert connectivity test")
	f.String("output-prefix", "", "Write test results to <prefix>_results.csv")
	f.Bool("progress", false, "Log the bulk insert rate every second")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{
		"num-runs", "num-docs", "num-threads", "cumul-threads", "batch-size", "db-conn-strings",
		"db-name", "document-provider", "template-dir", "op-timeout", "single-insert-trials",
		"output-prefix", "progress", "log-level",
	} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), f.Lookup(name))
	}
	return cmd
}

func configFromViper(v *viper.Viper) BenchConfig {
	return BenchConfig{
		NumRuns:            v.GetInt("num_runs"),
		NumDocs:            v.GetInt("num_docs"),
		NumThreads:         v.GetInt("num_threads"),
		CumulThreads:       v.GetBool("cumul_threads"),
		BatchSize:          v.GetInt("batch_size"),
		ConnStrings:        splitConnStrings(v.GetString("db_conn_strings")),
		DBName:             v.GetString("db_name"),
		DocumentProvider:   v.GetString("document_provider"),
		TemplateDir:        v.GetString("template_dir"),
		OpTimeout:          v.GetDuration("op_timeout"),
		SingleInsertTrials: v.GetInt("single_insert_trials"),
		OutputFilePrefix:   v.GetString("output_prefix"),
		Progress:           v.GetBool("progress"),
	}
}

func run(ctx context.Context, config BenchConfig) error {
	if err := config.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	providers, err := SelectProviders(config.DocumentProvider, templateSource(config.TemplateDir))
	if err != nil {
		if len(providers) == 0 {
			return err
		}
		log.Warnf("Skipping document providers: %v", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Running mongodb-perftest with %+v", config)
	return NewHarness(config, providers, connectMongo, os.Stdout).Run(ctx)
}
