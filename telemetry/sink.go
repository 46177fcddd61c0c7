package telemetry

// Sink consumes decoded records. Implementations must not block the caller for long
// and must be safe for use from one goroutine at a time.
type Sink interface {
	Attitude(Attitude)
	Position(PositionVelocityHeading)
	Close() error
}

type Noop struct{}

var _ Sink = Noop{}

func (Noop) Attitude(Attitude)                {}
func (Noop) Position(PositionVelocityHeading) {}
func (Noop) Close() error                     { return nil }
