// Package rc decodes radio-control receiver frames into pilot commands.
package rc

const NumChannels = 16

// Frame is one decoded receiver update.
type Frame struct {
	Channels [NumChannels]uint16

	// Normalized stick commands: Roll, Pitch, YawRate in [-1,1],
	// Throttle in [0,1].
	Roll     float64
	Pitch    float64
	YawRate  float64
	Throttle float64
	Arm      bool

	// Failsafe is raised by the receiver when it has lost the transmitter.
	Failsafe bool
	// FrameLost marks a dropped or unreliable frame.
	FrameLost bool
}

// ChannelMap assigns receiver channels (zero-based) to stick functions.
type ChannelMap struct {
	Roll     int
	Pitch    int
	Throttle int
	Yaw      int
	Arm      int
}

// DefaultChannelMap is AETR with the arm switch on channel 5.
func DefaultChannelMap() ChannelMap {
	return ChannelMap{Roll: 0, Pitch: 1, Throttle: 2, Yaw: 3, Arm: 4}
}

func (m ChannelMap) valid() bool {
	for _, ch := range []int{m.Roll, m.Pitch, m.Throttle, m.Yaw, m.Arm} {
		if ch < 0 || ch >= NumChannels {
			return false
		}
	}
	return true
}

// apply fills the stick fields of f from its raw channels.
func (m ChannelMap) apply(f *Frame) {
	f.Roll = stick(f.Channels[m.Roll])
	f.Pitch = stick(f.Channels[m.Pitch])
	f.YawRate = stick(f.Channels[m.Yaw])
	f.Throttle = (stick(f.Channels[m.Throttle]) + 1) / 2
	f.Arm = f.Channels[m.Arm] > switchHigh
}
