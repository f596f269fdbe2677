package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamePropagatesToContext(t *testing.T) {
	names := make(chan string, 1)

	done := Go(context.Background(), "manager-worker", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "goroutine MUST finish")
	}
	assert.Equal(t, "manager-worker", <-names)
}

func TestGo_NilParentContext(t *testing.T) {
	//nolint:staticcheck // nil parent is part of the contract
	done := Go(nil, "nil-parent", func(ctx context.Context) {
		assert.NotNil(t, ctx)
	})
	<-done
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil ctx is handled
	assert.Equal(t, "", GetName(nil))
}

func TestGetGID_DistinctPerGoroutine(t *testing.T) {
	mine := GetGID()
	assert.NotZero(t, mine)
	assert.Equal(t, mine, GetGID(), "GID MUST be stable within one goroutine")

	other := make(chan uint64, 1)
	<-Go(context.Background(), "gid-probe", func(context.Context) {
		other <- GetGID()
	})
	assert.NotEqual(t, mine, <-other)
}
