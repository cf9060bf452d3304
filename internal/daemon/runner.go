// Package daemon assembles the worker: configuration, clients, the
// scan pipeline and the consumer loop, plus process-level concerns
// (signals, privilege drop, scratch hygiene, scheduled upkeep).
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ipsix/avsentry/internal/api"
	"github.com/ipsix/avsentry/internal/config"
	"github.com/ipsix/avsentry/internal/consumer"
	"github.com/ipsix/avsentry/internal/notify"
	"github.com/ipsix/avsentry/internal/objectstore"
	"github.com/ipsix/avsentry/internal/pipeline"
	"github.com/ipsix/avsentry/internal/records"
	"github.com/ipsix/avsentry/internal/scanengine"
)

type Runner struct {
	cfg    config.Config
	logger *zap.SugaredLogger
}

func New(cfg config.Config, logger *zap.SugaredLogger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Daemon.SelfIntegrity {
		if err := VerifySelfIntegrity(r.cfg.Daemon.ExpectedSHA256); err != nil {
			return err
		}
	}
	if r.cfg.Daemon.DropPrivileges {
		if err := RequirePrivilegeDrop(r.cfg.Daemon.User, r.cfg.Daemon.Group); err != nil {
			return err
		}
		if err := DropPrivileges(r.cfg.Daemon.User, r.cfg.Daemon.Group); err != nil {
			return err
		}
	}
	if err := PrepareScratchDir(r.cfg.Daemon.ScratchDir, r.logger); err != nil {
		return err
	}

	engine := scanengine.NewClamAV(r.cfg.Scan.ClamscanPath, r.cfg.Scan.TimeoutDuration())
	version, err := engine.Version(ctx)
	if err != nil {
		return errors.Wrap(err, "scan engine unavailable")
	}
	r.logger.Infow("scan engine ready", "engine", engine.Name(), "version", version)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(r.cfg.AWS.Region))
	if err != nil {
		return errors.Wrap(err, "load aws config")
	}
	endpoint := r.cfg.AWS.Endpoint
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	downloader := manager.NewDownloader(s3Client)

	store, err := records.OpenBadger(r.cfg.Storage.DBPath, r.cfg.Storage.EncryptionKeyBase64)
	if err != nil {
		return err
	}
	defer store.Close()
	audit := records.NewRecordStore(store)

	gateway := objectstore.NewS3Gateway(s3Client, downloader,
		r.cfg.Quarantine.Bucket, r.cfg.Quarantine.Prefix, r.cfg.Daemon.ScratchDir)

	channels, err := notify.BuildChannels(r.cfg.Alerting, r.logger, snsClient)
	if err != nil {
		return err
	}
	notifier := notify.New(r.logger, channels...)

	processor := pipeline.NewProcessor(gateway, engine, notifier, audit, r.logger)
	loop := consumer.New(sqsClient, processor, r.logger, consumer.Options{
		QueueURL:               r.cfg.Transport.QueueURL,
		WaitTime:               r.cfg.Transport.WaitTimeDuration(),
		VisibilityTimeout:      r.cfg.Transport.VisibilityTimeoutDuration(),
		HeartbeatInterval:      r.cfg.Transport.HeartbeatIntervalDuration(),
		BatchSize:              r.cfg.Transport.BatchSize,
		Workers:                r.cfg.Transport.Workers,
		PoisonReceiveThreshold: r.cfg.Transport.PoisonReceiveThreshold,
	})

	schedule := cron.New()
	if err := records.ScheduleRetention(schedule, audit, r.cfg.Storage.RetentionDays, r.logger); err != nil {
		return errors.Wrap(err, "schedule retention")
	}
	if spec := r.cfg.Scan.DefinitionsSchedule; spec != "" {
		refresher := scanengine.NewRefresher(r.cfg.Scan.FreshclamPath, r.logger)
		if _, err := schedule.AddFunc(spec, func() {
			if err := refresher.Refresh(context.Background()); err != nil {
				r.logger.Errorw("definitions refresh failed", "error", err)
			}
		}); err != nil {
			return errors.Wrap(err, "schedule definitions refresh")
		}
	}
	schedule.Start()
	defer schedule.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now().UTC()
	if r.cfg.API.Enabled {
		server := api.New(r.cfg.API, r.logger, func() api.Status {
			stats, statsErr := audit.Stats()
			if statsErr != nil {
				r.logger.Warnw("stats read failed", "error", statsErr)
			}
			return api.Status{
				Engine:    engine.Name(),
				Version:   version,
				Workers:   r.cfg.Transport.Workers,
				UptimeSec: int64(time.Since(started) / time.Second),
				Consumer:  loop.Metrics(),
				Scans:     stats,
			}
		})
		go func() {
			if serveErr := server.Start(ctx); serveErr != nil {
				r.logger.Errorw("api server exited", "error", serveErr)
			}
		}()
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go r.handleSignals(sigCh, cancel)

	r.logger.Infow("worker started",
		"queue", r.cfg.Transport.QueueURL,
		"quarantine_bucket", r.cfg.Quarantine.Bucket,
		"workers", r.cfg.Transport.Workers,
	)

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	return r.shutdown(done)
}

func (r *Runner) handleSignals(sigCh <-chan os.Signal, cancel context.CancelFunc) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			r.logger.Infow("config reload requested; restart to apply")
		case syscall.SIGINT, syscall.SIGTERM:
			r.logger.Warnw("shutdown signal received", "signal", sig.String())
			cancel()
			return
		default:
			r.logger.Warnw("unexpected signal received", "signal", sig.String())
		}
	}
}

// shutdown waits for in-flight messages to finish their current event,
// bounded by the configured timeout.
func (r *Runner) shutdown(done <-chan struct{}) error {
	timeout := r.cfg.Daemon.ShutdownTimeoutDuration()
	r.logger.Infow("shutdown starting", "timeout", timeout.String())

	select {
	case <-done:
		r.logger.Infow("shutdown complete")
		return nil
	case <-time.After(timeout):
		r.logger.Errorw("shutdown timed out with work in flight")
		return errors.New("shutdown timed out")
	}
}
