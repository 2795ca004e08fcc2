package kfn

import (
	"testing"

	"github.com/nestybox/rmekernel/hal/simarch"
	"github.com/nestybox/rmekernel/kernelerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumCPUReturnsArchCount(t *testing.T) {
	arch := simarch.New(4)
	v, err := Call(arch, NumCPU, 0, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)
}

func TestPutcharSucceeds(t *testing.T) {
	arch := simarch.New(1)
	v, err := Call(arch, Putchar, 'x', 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)
}

func TestUnknownFuncReturnsKfnUnknown(t *testing.T) {
	arch := simarch.New(1)
	_, err := Call(arch, Func(999), 0, 0, 0)
	require.Error(t, err)
	ke, ok := kernelerr.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.KfnUnknown, ke.Code)
}
