package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/trackfetch/constants"
	"github.com/xeptore/trackfetch/importer"
	"github.com/xeptore/trackfetch/log"
	"github.com/xeptore/trackfetch/playlist"
	"github.com/xeptore/trackfetch/queue"
	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "trackfetch",
		Version: constants.Version,
		Metadata: map[string]any{
			"compiled_at": constants.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Audio track acquisition pipeline",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:      "import",
				Usage:     "Acquire every track of a playlist file",
				ArgsUsage: "<playlist.json>",
				Action:    importRun,
			},
			{
				Name:  "queue",
				Usage: "Ad hoc acquisition queue commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:  "add",
						Usage: "Add a track to the queue",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "id", Usage: "External track id", Required: true},
							&cli.StringFlag{Name: "title", Usage: "Track title", Required: true},
							&cli.StringFlag{Name: "artist", Usage: "Track artist", Required: true},
							&cli.IntFlag{Name: "duration", Usage: "Expected duration in seconds"},
							&cli.StringFlag{Name: "artwork-url", Usage: "Artwork URL"},
							&cli.StringFlag{Name: "collection-id", Usage: "Originating collection id"},
							&cli.StringFlag{Name: "collection-name", Usage: "Originating collection name"},
						},
						Action: queueAdd,
					},
					{
						Name:  "run",
						Usage: "Process queued tracks one at a time",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "watch", Usage: "Keep running and wait for new tracks"},
						},
						Action: queueRun,
					},
					{
						Name:   "retry",
						Usage:  "Requeue every failed track as a new entry",
						Action: queueRetry,
					},
					{
						Name:   "status",
						Usage:  "Show queued tracks",
						Action: queueStatus,
					},
				},
			},
			{
				Name:   "library",
				Usage:  "List acquired tracks",
				Action: libraryList,
			},
			{
				Name:  "gc",
				Usage: "Remove orphaned staging and media files",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Do not ask for confirmation"},
				},
				Action: gc,
			},
			{
				Name:   "verify",
				Usage:  "Re-validate every acquired track",
				Action: verify,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func importRun(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := cmd.Args().First()
	if path == "" {
		return errors.New("playlist file path is required")
	}

	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	refs, err := playlist.ReadReferences(path)
	if nil != err {
		return fmt.Errorf("read playlist: %v", err)
	}

	keep, err := a.staged()
	if nil != err {
		return fmt.Errorf("load queue: %v", err)
	}
	if _, err := a.staging.Sweep(keep...); nil != err {
		return fmt.Errorf("sweep staging directory: %v", err)
	}

	eventsCtx, cancelEvents := context.WithCancel(ctx)
	defer cancelEvents()
	go a.logEvents(eventsCtx)

	im := importer.New(a.pipeline, a.store, a.broker, a.media, importer.Options{
		BatchWidth:    a.conf.Import.BatchWidth,
		CoverGridSize: a.conf.Import.CoverGridSize,
		CoverSize:     a.conf.Import.CoverSize,
	})

	summary, err := im.Import(ctx, a.logger, refs)
	if nil != err {
		if errors.Is(err, importer.ErrEmptyBatch) {
			a.logger.Warn().Str("path", path).Msg("Playlist has no tracks")
			return nil
		}

		return fmt.Errorf("import playlist: %w", err)
	}

	rows := lo.FilterMap(summary.Entries, func(e types.QueueEntry, _ int) ([]string, bool) {
		return []string{e.Ref.ExternalID, e.Ref.Title, e.Ref.Artist, string(e.FailureCode), e.Debug.Tier}, e.Status == types.StatusFailed
	})
	if len(rows) > 0 {
		fmt.Println(renderTable([]string{"ID", "Title", "Artist", "Failure", "Tier"}, rows))
	}

	fmt.Println(renderTable(
		[]string{"Completed", "Failed", "Skipped", "Collections"},
		[][]string{{
			strconv.Itoa(summary.Completed),
			strconv.Itoa(summary.Failed),
			strconv.Itoa(summary.Skipped),
			strconv.Itoa(len(summary.Collections)),
		}},
		1, 2, 3, 4,
	))

	if summary.Failed > 0 {
		return exitCodeError(4)
	}

	return nil
}

func openQueue(a *app) (*queue.Engine, error) {
	q, err := queue.Open(a.logger, a.store, a.store, a.pipeline, a.broker, a.staging)
	if nil != err {
		return nil, fmt.Errorf("open queue: %v", err)
	}

	return q, nil
}

func queueAdd(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	q, err := openQueue(a)
	if nil != err {
		return err
	}

	go a.broker.Drain(ctx)

	ref := types.TrackReference{
		ExternalID:       cmd.String("id"),
		Title:            cmd.String("title"),
		Artist:           cmd.String("artist"),
		ExpectedDuration: cmd.Int("duration"),
		ArtworkURL:       cmd.String("artwork-url"),
		CollectionID:     cmd.String("collection-id"),
		CollectionName:   cmd.String("collection-name"),
	}

	e, err := q.Enqueue(ctx, ref)
	if nil != err {
		switch {
		case errors.Is(err, queue.ErrAlreadyQueued):
			a.logger.Warn().Str("external_id", ref.ExternalID).Msg("Track is already queued")
			return exitCodeError(5)
		case errors.Is(err, queue.ErrAlreadyInLibrary):
			a.logger.Warn().Str("external_id", ref.ExternalID).Msg("Track is already in the library")
			return exitCodeError(5)
		default:
			return fmt.Errorf("enqueue track: %v", err)
		}
	}

	a.logger.Info().Str("entry_id", e.ID).Dict("ref", ref.ToDict()).Msg("Track queued")

	return nil
}

func queueRun(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	q, err := openQueue(a)
	if nil != err {
		return err
	}

	eventsCtx, cancelEvents := context.WithCancel(ctx)
	defer cancelEvents()
	go a.logEvents(eventsCtx)

	run := lo.Ternary(cmd.Bool("watch"), q.Run, q.Drain)
	if err := run(ctx); nil != err {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn().Msg("Queue stopped; interrupted entries resume on the next run")
			return nil
		}

		return fmt.Errorf("run queue: %w", err)
	}

	stats := q.Stats()
	a.logger.Info().
		Int("done", stats.Done).
		Int("failed", stats.Failed).
		Msg("Queue drained")

	return nil
}

func queueRetry(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	q, err := openQueue(a)
	if nil != err {
		return err
	}

	go a.broker.Drain(ctx)

	n, err := q.RetryFailed(ctx)
	if nil != err {
		return fmt.Errorf("retry failed entries: %v", err)
	}
	a.logger.Info().Int("requeued", n).Msg("Failed entries requeued")

	return nil
}

func queueStatus(_ context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	q, err := openQueue(a)
	if nil != err {
		return err
	}

	entries := q.Entries()
	if len(entries) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID,
			e.Ref.Title,
			e.Ref.Artist,
			string(e.Status),
			strconv.Itoa(e.RetryCount),
			string(e.FailureCode),
			string(e.Debug.Stage),
			e.Debug.Tier,
			e.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Title", "Artist", "Status", "Retries", "Failure", "Stage", "Tier", "Updated"},
		rows,
		5,
	))

	return nil
}

func libraryList(_ context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	artifacts, err := a.store.Artifacts()
	if nil != err {
		return fmt.Errorf("list library: %v", err)
	}

	rows := make([][]string, 0, len(artifacts))
	for _, art := range artifacts {
		rows = append(rows, []string{
			art.ExternalID,
			art.Title,
			art.Artist,
			(time.Duration(art.DurationSeconds) * time.Second).String(),
			string(art.Container),
			art.Tier,
			art.Path,
		})
	}
	fmt.Println(renderTable([]string{"ID", "Title", "Artist", "Duration", "Container", "Tier", "Path"}, rows, 4))

	return nil
}

func gc(_ context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	keep, err := a.staged()
	if nil != err {
		return fmt.Errorf("load queue: %v", err)
	}

	pending, err := a.staging.Pending()
	if nil != err {
		return fmt.Errorf("list staging directory: %v", err)
	}

	orphans, err := orphanedMedia(a)
	if nil != err {
		return err
	}

	stagedOrphans := lo.Without(pending, keep...)
	if len(stagedOrphans) == 0 && len(orphans) == 0 {
		a.logger.Info().Msg("Nothing to collect")
		return nil
	}

	if !cmd.Bool("yes") {
		confirmed := false
		prompt := &survey.Confirm{ //nolint:exhaustruct
			Message: fmt.Sprintf("Remove %d staged and %d media files?", len(stagedOrphans), len(orphans)),
		}
		if err := survey.AskOne(prompt, &confirmed, survey.WithStdio(os.Stdin, os.Stdout, os.Stderr)); nil != err {
			return fmt.Errorf("ask for confirmation: %v", err)
		}
		if !confirmed {
			return nil
		}
	}

	swept, err := a.staging.Sweep(keep...)
	if nil != err {
		return fmt.Errorf("sweep staging directory: %v", err)
	}

	removed := 0
	for _, path := range orphans {
		if err := os.Remove(path); nil != err && !errors.Is(err, os.ErrNotExist) {
			a.logger.Error().Err(err).Str("path", path).Msg("Failed to remove orphaned media file")
			continue
		}
		removed++
	}

	a.logger.Info().Int("staged", swept).Int("media", removed).Msg("Garbage collected")

	return nil
}

// orphanedMedia lists media files that belong to no library artifact.
func orphanedMedia(a *app) ([]string, error) {
	artifacts, err := a.store.Artifacts()
	if nil != err {
		return nil, fmt.Errorf("list library: %v", err)
	}

	known := make(map[string]struct{}, len(artifacts))
	for _, art := range artifacts {
		known[stem(art.Path)] = struct{}{}
	}

	files, err := a.media.Files()
	if nil != err {
		return nil, fmt.Errorf("list media directory: %v", err)
	}

	return lo.Filter(files, func(path string, _ int) bool {
		_, ok := known[stem(path)]
		return !ok
	}), nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func verify(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(cmd)
	if nil != err {
		return err
	}
	defer a.Close()

	artifacts, err := a.store.Artifacts()
	if nil != err {
		return fmt.Errorf("list library: %v", err)
	}

	var rows [][]string
	for _, art := range artifacts {
		res, err := a.validator.Validate(ctx, art.Path, "", 200, validate.StandardValidation)
		if nil != err {
			if nil != ctx.Err() {
				return context.Cause(ctx)
			}
			rows = append(rows, []string{art.ExternalID, art.Title, "unreadable", err.Error()})
			continue
		}

		if !res.Accepted {
			rows = append(rows, []string{art.ExternalID, art.Title, string(res.FailureCode), res.Detail})
		}
	}

	if len(rows) == 0 {
		a.logger.Info().Int("artifacts", len(artifacts)).Msg("Every artifact is valid")
		return nil
	}

	fmt.Println(renderTable([]string{"ID", "Title", "Failure", "Detail"}, rows))

	return exitCodeError(6)
}
