package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adjust/rmq/v3"
	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kcz17/benchram/config"
	"github.com/kcz17/benchram/driver"
	"github.com/kcz17/benchram/ingestion"
	"github.com/kcz17/benchram/session"
	"github.com/kcz17/benchram/worker"
)

func main() {
	configureLogging()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchram",
		Short: "benchram measures the latency and throughput of distributed storage benchmarks.",
		Long: `benchram hosts a benchmark session which collects timing samples from remote
workers and reports latency percentiles and throughput, or runs a worker which
drives a storage backend and submits its samples to a session.

Configuration is read from config.yaml in the working directory or /app unless
--config is given.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "path to a yaml configuration file")

	cmd.AddCommand(
		sessionCmd(),
		workerCmd(),
	)
	return cmd
}

// Host a session until interrupted, or serve the control API when --control
// is set.
func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Host a benchmark session and report on the samples workers submit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			controlAddr, err := cmd.Flags().GetString("control")
			if err != nil {
				return err
			}

			sink, err := newSink(&conf.Reporting)
			if err != nil {
				return err
			}
			options, err := sessionOptions(conf)
			if err != nil {
				return err
			}
			options.Sink = sink
			s := session.New(options)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if controlAddr != "" {
				return serveControlAPI(ctx, s, controlAddr)
			}
			return runSession(ctx, s)
		},
	}
	cmd.Flags().String("control", "", "address of the session control API; sessions are then started and stopped over HTTP")
	return cmd
}

func runSession(ctx context.Context, s *session.Session) error {
	handle, err := s.Start()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("interrupted; stopping session")
		if err := s.Stop(); err != nil {
			return err
		}
	case <-handle.Done():
	}
	return handle.Err()
}

func serveControlAPI(ctx context.Context, s *session.Session, addr string) error {
	api := &APIServer{Session: s}
	errs := make(chan error, 1)
	go func() {
		errs <- api.ListenAndServe(addr)
	}()
	log.WithField("addr", addr).Info("session control API listening")

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errs:
		if stopErr := s.Stop(); stopErr != nil {
			log.WithError(stopErr).Warn("could not stop session")
		}
		return errors.Wrap(err, "control API stopped serving")
	}
}

func sessionOptions(conf *config.Config) (session.Options, error) {
	options := session.Options{
		Addr: fmt.Sprintf(":%d", *conf.Session.Port),
		Parameters: ingestion.SessionParameters{
			MinLatency:  *conf.Session.MinLatency,
			MaxLatency:  *conf.Session.MaxLatency,
			Percentiles: conf.Session.Fractions(),
		},
		Interval:            conf.Session.ReportingInterval(),
		ArrayMemoryBudgetMB: *conf.Session.ArrayMemoryBudgetMB,
		MapMemoryBudgetMB:   *conf.Session.MapMemoryBudgetMB,
	}

	if conf.Queue.Enabled {
		connection, err := openQueueConnection("benchram-session", &conf.Queue.Redis)
		if err != nil {
			return options, err
		}
		options.QueueConnection = connection
		options.QueueName = conf.Queue.Name
	}
	return options, nil
}

// Run a worker until its driver reaches the end of its data.
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Drive a storage backend and submit timing samples to a session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, conf)
		},
	}
}

func runWorker(ctx context.Context, conf *config.Config) error {
	workerID := fmt.Sprintf("worker-%d", conf.Worker.ID)
	logger := log.WithField("worker", workerID)

	client := worker.NewHTTPClient(conf.Worker.IngestionAddr, 10000)
	parameters, err := client.Parameters(ctx)
	if err != nil {
		return err
	}

	var submitter worker.Submitter = client
	if conf.Worker.Transport == "queue" {
		connection, err := openQueueConnection(workerID, &conf.Queue.Redis)
		if err != nil {
			return err
		}
		if submitter, err = worker.NewQueuePublisher(connection, conf.Queue.Name); err != nil {
			return err
		}
	}

	reader, err := newReader(workerID, &conf.Worker)
	if err != nil {
		return err
	}
	defer reader.Close()

	benchmark, err := worker.NewBenchmark(&worker.BenchmarkOptions{
		Reader:       reader,
		Submitter:    submitter,
		Parameters:   *parameters,
		BatchSize:    conf.Worker.BatchSize,
		EmbeddedTime: conf.Worker.EmbeddedTime,
	})
	if err != nil {
		return err
	}

	if err := benchmark.Run(ctx); err != nil {
		return err
	}
	if conf.Worker.Transport == "http" {
		logger.Infof("submit round trips: %s", client.SubmitLatency().String())
	}
	return nil
}

func newReader(workerID string, conf *config.Worker) (driver.Reader, error) {
	switch conf.Driver {
	case "redis":
		return driver.NewRedisTransactionReader(&driver.RedisReaderOptions{
			Client:           newRedisClient(&conf.Redis),
			KeyPrefix:        conf.KeyPrefix,
			WorkerID:         workerID,
			StartKey:         driver.StartKey(conf.ID),
			RecordsPerReader: conf.Records,
		}), nil
	case "synthetic":
		return driver.NewSyntheticReader(&driver.SyntheticReaderOptions{
			WorkerID:      workerID,
			RecordSize:    conf.RecordSize,
			Records:       conf.Records,
			MeanLatency:   conf.Synthetic.MeanLatency,
			StdDevLatency: conf.Synthetic.StdDevLatency,
			MinLatency:    0,
			MaxLatency:    conf.Synthetic.MeanLatency + 10*conf.Synthetic.StdDevLatency,
			Seed:          uint64(conf.ID) + 1,
		}), nil
	default:
		return nil, errors.Errorf("expected worker.driver one of {redis|synthetic}; got %s", conf.Driver)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.ReadConfig(), nil
	}
	return config.ReadConfigFile(path)
}

func newRedisClient(conf *config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
}

func openQueueConnection(tag string, conf *config.Redis) (rmq.Connection, error) {
	errChan := make(chan error, 10)
	go func() {
		for err := range errChan {
			log.WithError(err).Warn("redis queue error")
		}
	}()

	connection, err := rmq.OpenConnectionWithRedisClient(tag, newRedisClient(conf), errChan)
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to redis queue")
	}
	return connection, nil
}
