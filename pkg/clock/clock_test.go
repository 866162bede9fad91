package clock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adeverne/kiwiglider/pkg/clock"
)

func TestRealClock(t *testing.T) {
	c := clock.New()
	assert.NotNil(t, c)

	now := c.Now()
	assert.False(t, now.IsZero())
}
