package signalengine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeviceID_NilIsOne(t *testing.T) {
	assert.Equal(t, uint32(1), DeviceID(nil))
}

func TestDeviceID_Deterministic(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, DeviceID(&id), DeviceID(&id))
}

func TestDeviceID_DifferentSessionsUsuallyDiffer(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	assert.NotEqual(t, DeviceID(&a), DeviceID(&b))
}

func TestDeviceID_NeverZero(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := uuid.New()
		assert.NotEqual(t, uint32(0), DeviceID(&id))
	}
}
