package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/signoff/pkg/mocks"
	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInstance_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		p := &mocks.MockPersistence{}
		p.On("HealthCheck", mock.Anything).Return(nil)

		message, ok := services.NewInstance(p).HealthCheck(context.Background())

		assert.True(t, ok)
		assert.Equal(t, "Persistence layer is healthy", message)
		p.AssertExpectations(t)
	})

	t.Run("unhealthy", func(t *testing.T) {
		p := &mocks.MockPersistence{}
		p.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

		message, ok := services.NewInstance(p).HealthCheck(context.Background())

		assert.False(t, ok)
		assert.Contains(t, message, "connection refused")
	})

	t.Run("not initialized", func(t *testing.T) {
		_, ok := services.NewInstance(nil).HealthCheck(context.Background())
		assert.False(t, ok)
	})
}

func TestTemplate_DeleteStorageFailures(t *testing.T) {
	template := &models.WorkflowTemplate{ID: "tpl-1"}

	t.Run("count failure is internal", func(t *testing.T) {
		templates := &mocks.MockTemplateRepository{}
		templates.On("GetByID", mock.Anything, "tpl-1").Return(template, nil)

		instances := &mocks.MockInstanceRepository{}
		instances.On("CountActiveByTemplate", mock.Anything, "tpl-1").Return(int64(0), errors.New("timeout"))

		p := &mocks.MockPersistence{Templates: templates, Instances: instances}

		err := services.NewTemplate(p, validator.New(), discardLogger()).Delete(context.Background(), "tpl-1")

		require.Error(t, err)
		assert.Equal(t, services.KindInternal, services.KindOf(err))
		templates.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("active instances block deletion", func(t *testing.T) {
		templates := &mocks.MockTemplateRepository{}
		templates.On("GetByID", mock.Anything, "tpl-1").Return(template, nil)

		instances := &mocks.MockInstanceRepository{}
		instances.On("CountActiveByTemplate", mock.Anything, "tpl-1").Return(int64(2), nil)

		p := &mocks.MockPersistence{Templates: templates, Instances: instances}

		err := services.NewTemplate(p, validator.New(), discardLogger()).Delete(context.Background(), "tpl-1")

		assert.True(t, services.IsConflict(err))
		templates.AssertExpectations(t)
		instances.AssertExpectations(t)
	})
}
