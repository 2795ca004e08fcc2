package idfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLongIDIsZeroPaddedHex(t *testing.T) {
	id := Thread(0xbeef)
	assert.Equal(t, "000000000000beef", id.LongID())
}

func TestShortIDTruncatesLongID(t *testing.T) {
	id := Process(0xdeadbeefcafebabe)
	short := id.ShortID()
	assert.Less(t, len(short), len(id.LongID()))
	assert.Equal(t, id.LongID()[:len(short)], short)
}

func TestStringIncludesKindTag(t *testing.T) {
	assert.Contains(t, Thread(1).String(), "Thd#")
	assert.Contains(t, Process(1).String(), "Prc#")
	assert.Contains(t, Table(1).String(), "Cpt#")
	assert.Contains(t, PageTable(1).String(), "Pgt#")
	assert.Contains(t, Signal(1).String(), "Sig#")
	assert.Contains(t, Port(1).String(), "Inv#")
	assert.Contains(t, Core(1).String(), "Cpu#")
}

func TestDifferentValuesFormatDifferently(t *testing.T) {
	assert.NotEqual(t, Thread(1).String(), Thread(2).String())
}
