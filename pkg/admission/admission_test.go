package admission

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/foreman/pkg/ferrors"
	"github.com/cuemby/foreman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmit_DisabledIsNoop(t *testing.T) {
	cfg := types.AdmissionConfig{Enable: false}
	controller := New(cfg, NewLocalCoordinator())

	lease, err := controller.Admit(context.Background(), 1000)
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestAdmit_SelectsSmallQueueBelowThreshold(t *testing.T) {
	coordinator := NewLocalCoordinator()
	cfg := types.AdmissionConfig{
		Enable:        true,
		ThresholdCost: 100,
		SmallQueueCap: 1,
		LargeQueueCap: 1,
		QueueTimeout:  time.Second,
	}
	controller := New(cfg, coordinator)

	lease, err := controller.Admit(context.Background(), 50)
	require.NoError(t, err)
	require.NotNil(t, lease)
	Release(lease)
}

func TestAdmit_SelectsLargeQueueAboveThreshold(t *testing.T) {
	coordinator := NewLocalCoordinator()
	cfg := types.AdmissionConfig{
		Enable:        true,
		ThresholdCost: 100,
		SmallQueueCap: 1,
		LargeQueueCap: 1,
		QueueTimeout:  time.Second,
	}
	controller := New(cfg, coordinator)

	lease, err := controller.Admit(context.Background(), 500)
	require.NoError(t, err)
	require.NotNil(t, lease)
	Release(lease)
}

func TestAdmit_TimesOutWhenQueueFull(t *testing.T) {
	coordinator := NewLocalCoordinator()
	cfg := types.AdmissionConfig{
		Enable:        true,
		ThresholdCost: 100,
		SmallQueueCap: 1,
		LargeQueueCap: 1,
		QueueTimeout:  20 * time.Millisecond,
	}
	controller := New(cfg, coordinator)

	holder, err := controller.Admit(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, holder)
	defer Release(holder)

	_, err = controller.Admit(context.Background(), 1)
	var setupErr *ferrors.ForemanSetupError
	require.ErrorAs(t, err, &setupErr)
}

func TestRelease_DoubleReleaseIsSafe(t *testing.T) {
	coordinator := NewLocalCoordinator()
	cfg := types.AdmissionConfig{
		Enable:        true,
		ThresholdCost: 100,
		SmallQueueCap: 1,
		LargeQueueCap: 1,
		QueueTimeout:  time.Second,
	}
	controller := New(cfg, coordinator)

	lease, err := controller.Admit(context.Background(), 1)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		Release(lease)
		Release(lease)
	})
}

func TestRelease_NilLeaseIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		Release(nil)
	})
}
