package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/senate-indexer/pkg/adapters"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/retry"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		status   int
		exit     int
	}{
		{
			name:     "entity not found",
			err:      fmt.Errorf("load: %w", governance.ErrEntityNotFound),
			category: CategoryResourceNotFound,
			status:   http.StatusNotFound,
			exit:     2,
		},
		{
			name:     "decode failure",
			err:      governance.NewDecodeError("snapshot", errors.New("bad choice")),
			category: CategoryDataError,
			status:   http.StatusBadRequest,
			exit:     2,
		},
		{
			name:     "no adapter",
			err:      fmt.Errorf("%w for source type %q", adapters.ErrNoAdapter, "acme_chain"),
			category: CategoryNotSupported,
			status:   http.StatusNotImplemented,
			exit:     2,
		},
		{
			name:     "retries exhausted",
			err:      &retry.ExhaustedError{Target: "rpc", Attempts: 3, Last: errors.New("429")},
			category: CategoryDependencyFailure,
			status:   http.StatusBadGateway,
			exit:     3,
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("refresh: %w", context.DeadlineExceeded),
			category: CategoryConnectionTimeout,
			status:   http.StatusGatewayTimeout,
			exit:     3,
		},
		{
			name:     "anything else",
			err:      errors.New("boom"),
			category: CategoryGeneralError,
			status:   http.StatusInternalServerError,
			exit:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromDomain(tt.err)
			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.category, svcErr.Category)
			assert.Equal(t, tt.status, svcErr.StatusCode())
			assert.Equal(t, tt.exit, svcErr.ExitCode())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestFromDomain_KeepsCategorized(t *testing.T) {
	assert.Nil(t, FromDomain(nil))

	in := ConflictError(nil, "entity already exists")
	assert.Same(t, in, FromDomain(in))
	assert.True(t, Is(in, CategoryDataConflict))
	assert.Equal(t, "conflict: entity already exists", in.Error())
}

func TestIsInternalError(t *testing.T) {
	assert.False(t, IsInternalError(BadRequestError(nil, "bad id")))
	assert.True(t, IsInternalError(DependencyFailureError(nil, "hub down")))
	assert.True(t, IsInternalError(errors.New("plain")))
}
