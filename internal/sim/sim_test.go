package sim

import (
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"flightcore/internal/actuator"
	"flightcore/internal/rc"
)

func TestIMU_LevelReadsUp(t *testing.T) {
	s := NewIMU(IMUConfig{GyroBiasDPS: r3.Vec{X: 0.5}})
	got, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(got.Az-1) > 1e-12 || math.Abs(got.Ax) > 1e-12 || math.Abs(got.Ay) > 1e-12 {
		t.Fatalf("accel=(%v,%v,%v) want (0,0,1)", got.Ax, got.Ay, got.Az)
	}
	if got.Gx != 0.5 || got.Gy != 0 || got.Gz != 0 {
		t.Fatalf("gyro=(%v,%v,%v)", got.Gx, got.Gy, got.Gz)
	}
	if s.Probe() != nil {
		t.Fatalf("probe should succeed")
	}
}

func TestIMU_TiltKeepsMagnitude(t *testing.T) {
	s := NewIMU(IMUConfig{RollDeg: 10, PitchDeg: -5})
	got, _ := s.Read()
	n := math.Sqrt(got.Ax*got.Ax + got.Ay*got.Ay + got.Az*got.Az)
	if math.Abs(n-1) > 1e-12 {
		t.Fatalf("|accel|=%v want 1", n)
	}
	if got.Az >= 1 {
		t.Fatalf("az=%v want < 1 when tilted", got.Az)
	}
}

type fakeNow struct{ t time.Duration }

func (f *fakeNow) now() time.Duration { return f.t }

func noSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

func decodeAll(t *testing.T, s *RC, d *rc.Decoder) []rc.Frame {
	t.Helper()
	var out []rc.Frame
	buf := make([]byte, 7)
	for i := 0; i < 16; i++ {
		n, err := s.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
		for _, b := range buf[:n] {
			if f, ok := d.Feed(b); ok {
				out = append(out, f)
			}
		}
	}
	return out
}

func TestRC_EmitsDecodableFrames(t *testing.T) {
	noSleep(t)
	clk := &fakeNow{}
	s := NewRC(RCConfig{Period: 10 * time.Millisecond, ArmAfter: 20 * time.Millisecond}, clk.now)
	d := rc.NewDecoder(rc.DefaultChannelMap())

	frames := decodeAll(t, s, d)
	if len(frames) != 1 {
		t.Fatalf("frames=%d want 1", len(frames))
	}
	f := frames[0]
	if f.Arm || f.Throttle != 0 || f.Roll != 0 || f.FrameLost || f.Failsafe {
		t.Fatalf("frame=%+v", f)
	}

	// Not due yet.
	clk.t = 5 * time.Millisecond
	if got := decodeAll(t, s, d); len(got) != 0 {
		t.Fatalf("frames=%d want 0 before period", len(got))
	}

	clk.t = 25 * time.Millisecond
	frames = decodeAll(t, s, d)
	if len(frames) != 1 || !frames[0].Arm {
		t.Fatalf("frames=%+v want one armed frame", frames)
	}
	if s.Frames() != 2 {
		t.Fatalf("generated=%d want 2", s.Frames())
	}
}

func TestRC_DropAndClose(t *testing.T) {
	noSleep(t)
	clk := &fakeNow{t: time.Second}
	s := NewRC(RCConfig{DropAfter: 500 * time.Millisecond}, clk.now)
	buf := make([]byte, 32)
	if n, err := s.Read(buf); n != 0 || err != nil {
		t.Fatalf("n=%d err=%v want silence after drop", n, err)
	}
	_ = s.Close()
	if _, err := s.Read(buf); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestRC_FlushDropsPartialFrame(t *testing.T) {
	noSleep(t)
	clk := &fakeNow{}
	s := NewRC(RCConfig{}, clk.now)
	buf := make([]byte, 5)
	if n, _ := s.Read(buf); n != 5 {
		t.Fatalf("n=%d want 5", n)
	}
	_ = s.Flush()
	if n, _ := s.Read(buf); n != 0 {
		t.Fatalf("n=%d want 0 after flush", n)
	}
}

func TestMotors_KeepsCopyOfLastCommand(t *testing.T) {
	var m Motors
	cmd := actuator.Command{0.1, 0.2, 0.3, 0.4}
	if err := m.SetOutput(cmd); err != nil {
		t.Fatalf("SetOutput err=%v", err)
	}
	cmd[0] = 0.9
	got := m.Last()
	if len(got) != 4 || got[0] != 0.1 || got[3] != 0.4 {
		t.Fatalf("last=%v want [0.1 0.2 0.3 0.4]", got)
	}
	got[1] = 0.7
	if m.Last()[1] != 0.2 {
		t.Fatalf("Last aliases internal state")
	}
	if m.Writes() != 1 {
		t.Fatalf("writes=%d want 1", m.Writes())
	}
}
