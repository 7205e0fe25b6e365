// File: pool/objpool_test.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncPoolCreatesOnEmpty(t *testing.T) {
	created := 0
	p := NewSyncPool(func() *[16]byte {
		created++
		return new([16]byte)
	})
	b := p.Get()
	assert.NotNil(t, b)
	assert.Equal(t, 1, created)
	b[0] = 7
	p.Put(b)
	assert.NotNil(t, p.Get())
}
