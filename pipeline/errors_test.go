package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/trackfetch/cascade"
	"github.com/xeptore/trackfetch/convert"
	"github.com/xeptore/trackfetch/pipeline"
	"github.com/xeptore/trackfetch/resolver"
	"github.com/xeptore/trackfetch/store"
	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		code      types.FailureCode
		retryable bool
	}{
		{"nil", nil, types.FailureNone, false},
		{"validation", rejected("primary", types.FailureTooShort), types.FailureTooShort, true},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), types.FailureCanceled, false},
		{"no match", resolver.ErrNoMatchFound, types.FailureNoMatch, false},
		{"exhausted", fmt.Errorf("%w: x", cascade.ErrAllSourcesExhausted), types.FailureAllSourcesExhausted, true},
		{"conversion", convert.ErrConversionFailed, types.FailureConversion, false},
		{"persistence", store.ErrPersistenceFailed, types.FailurePersistence, false},
		{"other", errors.New("boom"), types.FailureInternal, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, test.code, pipeline.Classify(test.err))
			assert.Equal(t, test.retryable, pipeline.IsRetryable(test.err))
		})
	}
}

func TestValidationErrorIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, pipeline.IsRetryable(&validate.Error{Code: types.FailureBadStatus, Detail: "503"}))
}
