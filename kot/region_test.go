package kot

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRegionRoundTripsThroughClose(t *testing.T) {
	fs := afero.NewMemMapFs()

	r, err := NewFileRegion(fs, "/kot/region.bin", 256)
	require.NoError(t, err)
	buf := r.Bytes()
	require.Len(t, buf, 256)
	buf[0] = 0xAB
	buf[255] = 0xCD
	require.NoError(t, r.Close())

	r2, err := NewFileRegion(fs, "/kot/region.bin", 256)
	require.NoError(t, err)
	assert.EqualValues(t, 0xAB, r2.Bytes()[0])
	assert.EqualValues(t, 0xCD, r2.Bytes()[255])
	require.NoError(t, r2.Close())
}

func TestFileRegionUsableByTable(t *testing.T) {
	fs := afero.NewMemMapFs()
	r, err := NewFileRegion(fs, "/kot/region.bin", 128<<6)
	require.NoError(t, err)

	tbl, err := NewTable(r, 6)
	require.NoError(t, err)
	require.NoError(t, tbl.Mark(0, 64*4))
	require.Error(t, tbl.Mark(64, 64)) // overlaps

	require.NoError(t, r.Close())
}
