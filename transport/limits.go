package transport

// Default maximum frame size (3.5 MB)
const DefaultMaxFrame int = 3_670_016

// Hard limit on frame size (16 MB) - prevents DoS
const MaxFrameHardLimit int = 16_777_216

// Limits bounds the frames a stream transport accepts and emits.
type Limits struct {
	MaxFrame int `toml:"max_frame"`
}

// DefaultLimits returns the default stream limits
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// effectiveMax clamps the configured limit to the hard limit.
func (l Limits) effectiveMax() int {
	if l.MaxFrame <= 0 || l.MaxFrame > MaxFrameHardLimit {
		return MaxFrameHardLimit
	}
	return l.MaxFrame
}
