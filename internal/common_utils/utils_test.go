package commonutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoIDDiffersAcrossGoroutines(t *testing.T) {
	mine := GoID()
	assert.Positive(t, mine)

	other := make(chan int64)
	go func() { other <- GoID() }()
	assert.NotEqual(t, mine, <-other)
}
