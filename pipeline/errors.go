package pipeline

import (
	"context"
	"errors"

	"github.com/xeptore/trackfetch/cascade"
	"github.com/xeptore/trackfetch/convert"
	"github.com/xeptore/trackfetch/resolver"
	"github.com/xeptore/trackfetch/store"
	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

// Classify maps a pipeline error to the failure code recorded on the entry.
func Classify(err error) types.FailureCode {
	if nil == err {
		return types.FailureNone
	}

	if vErr := (*validate.Error)(nil); errors.As(err, &vErr) {
		return vErr.Code
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.FailureCanceled
	case errors.Is(err, resolver.ErrNoMatchFound):
		return types.FailureNoMatch
	case errors.Is(err, cascade.ErrAllSourcesExhausted):
		return types.FailureAllSourcesExhausted
	case errors.Is(err, convert.ErrConversionFailed):
		return types.FailureConversion
	case errors.Is(err, store.ErrPersistenceFailed):
		return types.FailurePersistence
	default:
		return types.FailureInternal
	}
}

// IsRetryable reports whether another candidate may succeed where the
// current one failed.
func IsRetryable(err error) bool {
	return errors.Is(err, validate.ErrValidationFailed) || errors.Is(err, cascade.ErrAllSourcesExhausted)
}

func stageOf(err error) types.Stage {
	switch {
	case errors.Is(err, resolver.ErrNoMatchFound):
		return types.StageResolve
	case errors.Is(err, validate.ErrValidationFailed):
		return types.StageValidate
	case errors.Is(err, convert.ErrConversionFailed):
		return types.StageConvert
	case errors.Is(err, store.ErrPersistenceFailed):
		return types.StagePersist
	default:
		return types.StageDownload
	}
}
