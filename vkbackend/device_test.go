package vkbackend

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/devicemanager/device"
)

func TestRegistry(t *testing.T) {
	var r registry[string]

	a := r.add("a")
	b := r.add("b")
	require.True(t, a.Valid())
	require.NotEqual(t, a, b)
	require.Equal(t, 2, r.len())

	got, err := r.get(b)
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	got, err = r.remove(a)
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	_, err = r.get(a)
	assert.Error(t, err)
	_, err = r.remove(a)
	assert.Error(t, err)

	c := r.add("c")
	assert.NotEqual(t, a, c)
	assert.Equal(t, 2, r.len())
}

func TestCheck(t *testing.T) {
	require.NoError(t, check(core1_0.VKSuccess, nil, "submit"))

	err := check(core1_0.VKErrorOutOfDeviceMemory, errors.New("out of memory"), "allocate command buffer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocate command buffer")
	assert.False(t, errors.Is(err, device.ErrDeviceLost))

	err = check(core1_0.VKErrorDeviceLost, errors.New("lost"), "wait for fence")
	assert.True(t, errors.Is(err, device.ErrDeviceLost), "%+v", err)
}
