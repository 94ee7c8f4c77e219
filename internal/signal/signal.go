// Package signal implements the per-channel sample-processing pipeline:
// scaling, trailing moving-average smoothing, and a bounded sweep window
// that hard-resets on sequence counter wraparound.
package signal

// ChannelID enumerates the two notification channels.
type ChannelID int

const (
	ECG ChannelID = iota
	PPG
)

func (id ChannelID) String() string {
	switch id {
	case ECG:
		return "ecg"
	case PPG:
		return "ppg"
	default:
		return "unknown"
	}
}

// Config binds a channel to its service/characteristic UUID fragments and
// its processing parameters. UUID fragments are matched by case-insensitive
// substring containment against adapter-reported UUID strings.
type Config struct {
	ID          ChannelID
	ServiceUUID string // lowercase UUID fragment
	CharUUID    string // lowercase UUID fragment
	Window      int    // sweep positions before wraparound
	Smoothing   int    // trailing moving-average width, 0 = none
	Scale       float64
	Signed      bool
}

// Channels returns the fixed channel bindings: ECG with a 1000-position
// sweep and a 3-sample trailing average, PPG with a 100-position sweep and
// a fixed 0.002 scale factor.
func Channels() []Config {
	return []Config{
		{
			ID:          ECG,
			ServiceUUID: "0000aa20",
			CharUUID:    "0000aa21",
			Window:      1000,
			Smoothing:   3,
			Scale:       1,
			Signed:      true,
		},
		{
			ID:          PPG,
			ServiceUUID: "0000aa00",
			CharUUID:    "0000aa03",
			Window:      100,
			Smoothing:   0,
			Scale:       0.002,
			Signed:      false,
		},
	}
}

// Sample is one processed point on a channel's sweep trace.
type Sample struct {
	Pos   int
	Value float64
}
