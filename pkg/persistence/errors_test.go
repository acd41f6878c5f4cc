package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/signoff/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewInstanceError("GetByID", "wf-123", persistence.ErrInstanceNotFound)
		conflict := persistence.NewInstanceError("Update", "wf-123", persistence.ErrVersionConflict)
		duplicate := fmt.Errorf("create: %w", persistence.ErrActiveInstanceExists)

		assert.True(t, persistence.IsInstanceNotFound(notFound))
		assert.True(t, persistence.IsVersionConflict(conflict))
		assert.True(t, persistence.IsActiveInstanceExists(duplicate))
		assert.False(t, persistence.IsVersionConflict(notFound))

		assert.True(t, errors.Is(notFound, persistence.ErrInstanceNotFound))
	})

	t.Run("instance error contains context", func(t *testing.T) {
		err := persistence.NewInstanceError("Update", "wf-123", persistence.ErrVersionConflict)

		assert.Contains(t, err.Error(), "Update")
		assert.Contains(t, err.Error(), "wf-123")
		assert.Contains(t, err.Error(), "version conflict")
	})
}

func TestListInstancesOptions_Normalize(t *testing.T) {
	t.Parallel()

	opts := persistence.ListInstancesOptions{Limit: 500, Offset: -3}
	require.NoError(t, opts.Normalize())

	assert.Equal(t, persistence.DefaultPageSize, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Equal(t, "created_at", opts.SortBy)
	assert.Equal(t, "desc", opts.SortOrder)

	bad := persistence.ListInstancesOptions{SortBy: "password"}
	assert.ErrorIs(t, bad.Normalize(), persistence.ErrInvalidSortField)

	bad = persistence.ListInstancesOptions{SortOrder: "sideways"}
	assert.ErrorIs(t, bad.Normalize(), persistence.ErrInvalidSortOrder)
}
