package chaindb

import (
	"errors"
	"time"
)

// TODO: move to Options once operators ask for it.
const reconnectAttempts = 12

var reconnectSleep = 5 * time.Second

// withReconnect executes op, retrying on transient "no server" failures with
// a fixed sleep in between. op must be idempotent or self-resetting. Other
// store failures surface as driver_open immediately; driver errors pass
// through unchanged.
func (d *Driver) withReconnect(op func() error) error {
	for i := 0; i < reconnectAttempts; i++ {
		if i > 0 {
			d.log.Warn().Dur("sleep", reconnectSleep).Msg("no server available, waiting before retry")
			time.Sleep(reconnectSleep)
		}
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoServer) {
			d.log.Error().Err(err).Msg("store error on reconnect")
			continue
		}
		var de *DriverError
		if errors.As(err, &de) {
			return err
		}
		d.log.Error().Err(err).Msg("store error")
		return driverErrf(ErrCodeOpen, err, "store operation failed")
	}
	return driverErrf(ErrCodeOpen, nil, "failed to connect to the store after %d attempts", reconnectAttempts)
}
