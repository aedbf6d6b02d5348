package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/YaganovValera/market-feed/common/logger"
)

func TestGracefulShutdown(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name string
		fn   func(ctx context.Context) error
		want error
	}{
		{"clean", func(context.Context) error { return nil }, nil},
		{"error", func(context.Context) error { return boom }, boom},
		{"timeout", func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		}, context.DeadlineExceeded},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := GracefulShutdown(c.name, 50*time.Millisecond, c.fn, logger.Nop())
			assert.ErrorIs(t, err, c.want)
		})
	}
}
