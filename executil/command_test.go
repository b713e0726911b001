package executil_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/trackfetch/executil"
)

func TestCommandRuns(t *testing.T) {
	t.Parallel()

	out, err := executil.Command(t.Context(), "sh", "-c", "printf ok").Output()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}

func TestCommandTerminatesProcessGroupOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := executil.Command(ctx, "sh", "-c", "sleep 30 & wait").Run()
	require.Error(t, err)
	assert.True(t, executil.Interrupted(ctx, err))
	assert.Less(t, time.Since(started), 10*time.Second)
}
