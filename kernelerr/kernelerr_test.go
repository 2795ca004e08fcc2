package kernelerr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeString(t *testing.T) {
	assert.Equal(t, "CPT_FROZEN", CptFrozen.String())
	assert.Contains(t, Code(7).String(), "KERR_UNKNOWN")
}

func TestErrorFormatting(t *testing.T) {
	e := New(SivFull, "endpoint counter saturated")
	assert.Equal(t, "SIV_FULL: endpoint counter saturated", e.Error())
}

func TestIsUnwrapsWrappedCause(t *testing.T) {
	base := New(CptQuie, "not quiescent yet")
	wrapped := errors.Wrap(base, "Cpt_Del")

	assert.True(t, Is(wrapped, CptQuie))
	assert.False(t, Is(wrapped, CptFrozen))

	ke, ok := AsErr(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CptQuie, ke.Code)
}
