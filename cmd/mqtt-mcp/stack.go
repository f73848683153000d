package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/mqtt-mcp/internal/audit"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-mcp/internal/telemetry"
	"github.com/nerrad567/mqtt-mcp/internal/tools"
	"github.com/nerrad567/mqtt-mcp/migrations"
)

// stack is the wired tool service and the infrastructure behind it.
type stack struct {
	log     *logging.Logger
	service *tools.Service

	// audit is nil when auditing is disabled.
	audit audit.Repository

	db      *database.DB
	influx  *influxdb.Client
	closers []func()
}

// stackOptions selects the optional parts of a stack.
type stackOptions struct {
	// source is recorded in audit entries (mcp or cli).
	source string

	// registerer receives the Prometheus collectors; nil skips Prometheus.
	registerer prometheus.Registerer
}

// buildStack opens the audit database and InfluxDB as configured and wires
// them into a tool service. Close releases everything it opened.
func buildStack(ctx context.Context, cfg *config.Config, log *logging.Logger, opts stackOptions) (_ *stack, err error) {
	s := &stack{log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	var recorders []telemetry.Recorder

	if opts.registerer != nil && cfg.Metrics.Enabled {
		prom, promErr := telemetry.NewPrometheusRecorder(opts.registerer)
		if promErr != nil {
			return nil, fmt.Errorf("registering metrics: %w", promErr)
		}
		recorders = append(recorders, prom)
	}

	if cfg.InfluxDB.Enabled {
		if err := s.openInflux(ctx, cfg.InfluxDB); err != nil {
			return nil, err
		}
		recorders = append(recorders, telemetry.NewInfluxRecorder(s.influx))
	} else {
		log.Debug("InfluxDB disabled")
	}

	if cfg.Audit.Enabled {
		if err := s.openAudit(ctx, cfg.Audit); err != nil {
			return nil, err
		}
	} else {
		log.Debug("audit log disabled")
	}

	serviceOpts := []tools.ServiceOption{
		tools.WithLogger(log),
		tools.WithSource(opts.source),
		tools.WithTelemetry(telemetry.Multi(recorders...)),
	}
	if s.audit != nil {
		serviceOpts = append(serviceOpts, tools.WithAudit(s.audit))
	}
	s.service = tools.NewService(cfg.MQTT, serviceOpts...)

	return s, nil
}

func (s *stack) openInflux(ctx context.Context, cfg config.InfluxDBConfig) error {
	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		s.log.Error("InfluxDB write error", "error", err)
	})

	s.influx = client
	s.closers = append(s.closers, func() {
		s.log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			s.log.Error("error closing InfluxDB", "error", closeErr)
		}
	})

	s.log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return nil
}

func (s *stack) openAudit(ctx context.Context, cfg config.AuditConfig) error {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening audit database: %w", err)
	}
	s.db = db
	s.closers = append(s.closers, func() {
		s.log.Info("closing audit database")
		if closeErr := db.Close(); closeErr != nil {
			s.log.Error("error closing audit database", "error", closeErr)
		}
	})

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	s.log.Info("audit database ready", "path", cfg.Path, "migrations_applied", applied)

	async := audit.NewAsync(audit.NewSQLiteRepository(db.DB), s.log)
	async.Start(context.WithoutCancel(ctx))
	s.audit = async
	s.closers = append(s.closers, async.Close)

	return nil
}

// healthCheck verifies the optional infrastructure connections are healthy.
func (s *stack) healthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("audit database: %w", err)
		}
	}

	if s.influx != nil {
		if err := s.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// Close releases resources in reverse order of opening.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
