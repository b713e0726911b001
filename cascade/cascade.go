package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

var (
	ErrAllSourcesExhausted = errors.New("all sources exhausted")
	errEmptyPayload        = errors.New("empty payload")
)

type Limiter interface {
	Wait(ctx context.Context) (time.Time, error)
}

// Progress receives the bytes written so far and the expected total, which
// is -1 when the source did not announce it.
type Progress func(written, total int64)

type Download struct {
	Staged    fs.Staged
	Container types.Container
	Tier      string
	Size      int64
}

// TierError attributes a rejected payload to the tier that served it.
type TierError struct {
	Tier string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("payload from %s tier rejected: %v", e.Tier, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// TierOf returns the tier a download error is attributed to, if any.
func TierOf(err error) string {
	if tierErr := (*TierError)(nil); errors.As(err, &tierErr) {
		return tierErr.Tier
	}

	return ""
}

type Cascade struct {
	tiers     []Tier
	limiter   Limiter
	staging   fs.Staging
	validator *validate.Validator
	timeout   time.Duration
}

func New(tiers []Tier, limiter Limiter, staging fs.Staging, validator *validate.Validator, timeout time.Duration) *Cascade {
	return &Cascade{
		tiers:     tiers,
		limiter:   limiter,
		staging:   staging,
		validator: validator,
		timeout:   timeout,
	}
}

func (c *Cascade) Tiers() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Name()
	}

	return names
}

// Download tries each tier in order until one yields bytes, then validates
// them strictly. A rejected payload is deleted and the validation error is
// returned without trying further tiers.
func (c *Cascade) Download(
	ctx context.Context,
	logger zerolog.Logger,
	candidate types.Candidate,
	onProgress Progress,
) (*Download, error) {
	var errs []error
	for _, tier := range c.tiers {
		logger := logger.With().Str("tier", tier.Name()).Logger()

		staged, info, err := c.attempt(ctx, tier, candidate, onProgress)
		if nil != err {
			if nil != ctx.Err() {
				return nil, fmt.Errorf("download interrupted: %w", context.Cause(ctx))
			}

			logger.Warn().Err(err).Msg("Tier failed, advancing to next tier")
			errs = append(errs, fmt.Errorf("%s: %v", tier.Name(), err))

			continue
		}

		res, err := c.validator.Validate(ctx, staged.Path, info.ContentType, info.Status, validate.StrictValidation)
		if nil != err {
			return nil, errors.Join(fmt.Errorf("failed to validate payload: %w", err), staged.Remove())
		}

		if !res.Accepted {
			logger.Warn().Str("failure_code", string(res.FailureCode)).Str("detail", res.Detail).Msg("Payload rejected")
			return nil, &TierError{Tier: tier.Name(), Err: validate.Discard(staged.Path, res.Err())}
		}

		size, err := staged.Size()
		if nil != err {
			return nil, errors.Join(err, staged.Remove())
		}

		logger.Debug().Int64("size", size).Str("container", res.Container.String()).Msg("Payload accepted")

		return &Download{Staged: staged, Container: res.Container, Tier: tier.Name(), Size: size}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrAllSourcesExhausted, errors.Join(errs...))
}

type attemptInfo struct {
	ContentType string
	Status      int
}

// attempt waits for a limiter slot and streams one tier into a fresh
// staging file. Nothing is left on disk when it fails.
func (c *Cascade) attempt(
	ctx context.Context,
	tier Tier,
	candidate types.Candidate,
	onProgress Progress,
) (staged fs.Staged, info attemptInfo, err error) {
	if _, err := c.limiter.Wait(ctx); nil != err {
		return fs.Staged{}, attemptInfo{}, fmt.Errorf("failed to wait for download slot: %w", err) //nolint:exhaustruct
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := tier.Open(ctx, candidate)
	if nil != err {
		return fs.Staged{}, attemptInfo{}, err //nolint:exhaustruct
	}

	staged, err = c.staging.New(candidate.SourceID)
	if nil != err {
		return fs.Staged{}, attemptInfo{}, errors.Join(err, payload.Body.Close()) //nolint:exhaustruct
	}

	var progress func(int64)
	if nil != onProgress {
		progress = func(written int64) { onProgress(written, payload.Size) }
	}

	n, err := staged.Write(payload.Body, progress)
	if closeErr := payload.Body.Close(); nil != closeErr {
		err = errors.Join(err, closeErr)
	}
	if nil != err {
		return fs.Staged{}, attemptInfo{}, errors.Join(err, staged.Remove()) //nolint:exhaustruct
	}

	if n == 0 {
		return fs.Staged{}, attemptInfo{}, errors.Join(errEmptyPayload, staged.Remove()) //nolint:exhaustruct
	}

	return staged, attemptInfo{ContentType: payload.ContentType, Status: payload.Status}, nil
}
