package resilience

import (
	"time"

	"github.com/rs/zerolog"
)

// Measure runs fn and logs its wall-clock duration under name.
func Measure[T any](logger zerolog.Logger, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	evt := logger.Debug().Str("op", name).Dur("took", time.Since(start))
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("operation measured")
	return result, err
}
