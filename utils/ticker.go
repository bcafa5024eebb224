package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/janvangent1/CHrocodile/logging"
)

// slowWarnDelays are the waits between successive warnings; the last one repeats.
var slowWarnDelays = []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}

// SlowLogger warns through logger while a blocking call that is usually quick keeps running.
// The first warning comes after two seconds, then after three, then every five, each carrying
// the elapsed time. Call the returned function when the call returns.
func SlowLogger(ctx context.Context, clk clock.Clock, logger logging.Logger, msg string, keysAndValues ...interface{}) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	start := clk.Now()
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			delay := slowWarnDelays[min(i, len(slowWarnDelays)-1)]
			timer := clk.Timer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			elapsed := clk.Since(start).Round(time.Second).String()
			logger.Warnw(msg, append(keysAndValues, "time_elapsed", elapsed)...)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
