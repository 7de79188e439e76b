package util

import (
	"time"

	"github.com/pkg/errors"
)

// Timeout bounds fn to the given duration. When fn outlives the duration
// its goroutine keeps running to completion in the background; the result
// lands in the buffered channel and is discarded, so the late send can
// neither block nor hit a closed channel.
func Timeout(fn func() error, duration time.Duration) error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return errors.New("timeout exceeded")
	}
}
