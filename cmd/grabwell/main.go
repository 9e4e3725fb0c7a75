package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/grabwell/grabwell/internal/config"
	"github.com/grabwell/grabwell/internal/pkg/hub"
	"github.com/grabwell/grabwell/internal/pkg/postgres"
	"github.com/grabwell/grabwell/internal/pkg/redis"
	"github.com/grabwell/grabwell/internal/pkg/runner"
	svcpkg "github.com/grabwell/grabwell/internal/pkg/svc"
	archiverepo "github.com/grabwell/grabwell/internal/repository/archive"
	jobsrepo "github.com/grabwell/grabwell/internal/repository/jobs"
	"github.com/grabwell/grabwell/internal/server"
	jobssvc "github.com/grabwell/grabwell/internal/service/jobs"
)

const (
	// ExitOk and ExitError are the exit codes.
	ExitOk = iota
	// ExitError is the exit code for errors.
	ExitError
)

var (
	// version is the service version.
	version string

	// name is the name of the service.
	name string
)

func main() {
	os.Exit(run())
}

//nolint:gocyclo // run wires every component of the binary.
func run() int {
	// Initialize the service information
	initSvcInfo()

	// Initialize the service with all necessary components
	ctx, cancel := svcpkg.Init()
	defer cancel()

	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}

	// Initialize the optional jobs archive
	var archive jobsrepo.Archiver
	if cfg.Postgres.Enabled {
		pdb, err := postgres.New(ctx, &postgres.Config{
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			Database:    cfg.Postgres.Database,
			MaxConns:    cfg.Postgres.MaxConns,
			MinConns:    cfg.Postgres.MinConns,
			MaxConnLife: cfg.Postgres.MaxConnLife,
			MaxConnIdle: cfg.Postgres.MaxConnIdle,
			DialTimeout: cfg.Postgres.DialTimeout,
			SSLMode:     cfg.Postgres.SSLMode,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitError
		}
		defer pdb.Close()

		ar := archiverepo.New(pdb)
		if err := ar.InitSchema(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitError
		}
		archive = ar
	}

	// Initialize the optional event mirror
	var rdb *redis.Store
	if cfg.Redis.Enabled {
		rdb, err = redis.New(ctx, &redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitError
		}
		defer rdb.Close()
	}

	// Initialize the status broadcast hub
	h := hub.New(&hub.Config{
		BufferSize:          cfg.Hub.BufferSize,
		SubscriberQueueSize: cfg.Hub.SubscriberQueueSize,
	})

	// Initialize the tool runner
	tool := runner.NewTool(&runner.ToolConfig{
		Binary:      cfg.Tool.Binary,
		CookiesPath: cfg.Tool.CookiesPath,
		OutputDir:   cfg.Tool.OutputDir,
		ExtraArgs:   strings.Fields(cfg.Tool.ExtraArgs),
	})
	r := runner.New(&runner.Config{
		Timeout:     cfg.Worker.ExecutionTimeout,
		GracePeriod: cfg.Worker.GracePeriod,
	})

	// Initialize the jobs repository
	repo := jobsrepo.New(&jobsrepo.Config{
		Workers:                cfg.Worker.Workers,
		QueueCapacity:          cfg.Worker.QueueCapacity,
		RetentionPeriod:        cfg.Worker.RetentionPeriod,
		JanitorInterval:        cfg.Worker.JanitorInterval,
		ArchiveRetentionPeriod: cfg.Worker.ArchiveRetentionPeriod,
	}, r, tool, h, rdb, archive)

	// Initialize the jobs service
	svc := jobssvc.New(validator.New(), repo)

	// Initialize the HTTP server
	srv := server.New(ctx, &server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		RequestBodyLimit:  cfg.Server.RequestBodyLimit,
	}, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return repo.Run(gctx)
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}

	return ExitOk
}

// initSvcInfo initializes the service information.
func initSvcInfo() {
	svcpkg.SetInfo(name, version)
}
