package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/trackfetch/cache"
	"github.com/xeptore/trackfetch/cascade"
	"github.com/xeptore/trackfetch/config"
	"github.com/xeptore/trackfetch/convert"
	"github.com/xeptore/trackfetch/cover"
	"github.com/xeptore/trackfetch/events"
	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/log"
	"github.com/xeptore/trackfetch/pipeline"
	"github.com/xeptore/trackfetch/ratelimit"
	"github.com/xeptore/trackfetch/resolver"
	"github.com/xeptore/trackfetch/store"
	"github.com/xeptore/trackfetch/validate"
)

type app struct {
	logger    zerolog.Logger
	conf      *config.Config
	store     *store.Store
	staging   fs.Staging
	media     fs.MediaDir
	validator *validate.Validator
	broker    *events.Broker
	pipeline  *pipeline.Pipeline
}

func loadConfig(cmd *cli.Command) (zerolog.Logger, *config.Config, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return logger, nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Debug().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return logger, nil, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)
	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	return logger, conf, nil
}

// setup wires every stage from the configuration. The returned app owns the
// database lock until closed.
func setup(cmd *cli.Command) (*app, error) {
	logger, conf, err := loadConfig(cmd)
	if nil != err {
		return nil, err
	}

	db, err := store.Open(conf.Storage.DBPath)
	if nil != err {
		if errors.Is(err, store.ErrLocked) {
			logger.Error().Str("db_path", conf.Storage.DBPath).Msg("Another trackfetch process is using the database")
			return nil, exitCodeError(3)
		}

		return nil, fmt.Errorf("open database: %v", err)
	}

	var (
		staging = fs.StagingFrom(conf.Storage.StagingDir)
		media   = fs.MediaDirFrom(conf.Storage.MediaDir)
		caches  = cache.New()
		prober  = validate.NewFFprobe(logger, conf.Convert.FFprobe)
		rules   = validate.Rules{
			StrictMinBytes:   conf.Validation.StrictMinBytes,
			StandardMinBytes: conf.Validation.StandardMinBytes,
			MinDuration:      conf.Validation.MinDuration.Duration,
		}
		validator = validate.New(rules, prober)
		limiter   = ratelimit.New(conf.RateLimit.MinInterval.Duration, conf.RateLimit.MaxJitter.Duration)
	)

	res := resolver.New(
		resolver.NewHTTPSearcher(logger, conf.Resolver, &caches.Searches),
		resolver.Options{
			QueryTemplates:  conf.Resolver.QueryTemplates,
			DisallowedTerms: conf.Resolver.DisallowedTerms,
			MinDuration:     conf.Resolver.MinDuration.Duration,
		},
	)

	downloads := cascade.New(
		cascade.TiersFromConfig(conf.Cascade),
		limiter,
		staging,
		validator,
		conf.Cascade.TierTimeout.Duration,
	)
	logger.Debug().Strs("tiers", downloads.Tiers()).Msg("Download cascade configured")

	converter := convert.New(
		convert.NewFFmpeg(logger, conf.Convert.FFmpeg),
		validator,
		media,
		convert.Format(conf.Convert.Format),
	)

	artwork := cover.NewFetcher(&caches.Artwork, conf.Import.CoverSize, conf.Cascade.TierTimeout.Duration)

	p := pipeline.New(res, downloads, converter, artwork, db, pipeline.Options{
		RetryCap:          conf.Queue.RetryCap,
		RetryBackoff:      conf.Queue.RetryBackoff.Duration,
		DurationTolerance: conf.Queue.DurationTolerance.Duration,
	})

	return &app{
		logger:    logger,
		conf:      conf,
		store:     db,
		staging:   staging,
		media:     media,
		validator: validator,
		broker:    events.New(conf.Events.Buffer),
		pipeline:  p,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); nil != err {
		a.logger.Error().Err(err).Msg("Failed to close database")
	}
}

// staged returns the staged payloads the persisted queue still refers to.
func (a *app) staged() ([]string, error) {
	entries, err := a.store.LoadSnapshot()
	if nil != err {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if nil != e.Staged {
			out = append(out, e.Staged.Path)
		}
	}

	return out, nil
}

// logEvents reports entry updates until ctx is done.
func (a *app) logEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.broker.C():
			e := ev.Entry
			if !ev.StatusChanged {
				a.logger.Trace().Str("entry_id", e.ID).Float64("progress", e.Progress).Msg("Progress")
				continue
			}

			a.logger.Info().
				Str("entry_id", e.ID).
				Str("title", e.Ref.Title).
				Str("artist", e.Ref.Artist).
				Str("status", string(e.Status)).
				Str("failure_code", string(e.FailureCode)).
				Msg("Entry updated")
		}
	}
}
