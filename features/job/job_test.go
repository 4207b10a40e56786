package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
	}

	for _, c := range cases {
		j := &Job{RetryCount: c.retryCount}
		assert.Equal(t, c.want, j.NextBackoff(), "retry_count=%d", c.retryCount)
	}
}
