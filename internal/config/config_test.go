package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RC.Baud != 100000 || cfg.RC.Device != "/dev/ttyAMA0" {
		t.Fatalf("rc=%+v", cfg.RC)
	}
	if cfg.RC.FrameExpected != 25*time.Millisecond || cfg.RC.LinkTimeout != 250*time.Millisecond {
		t.Fatalf("frame_expected=%s link_timeout=%s", cfg.RC.FrameExpected, cfg.RC.LinkTimeout)
	}
	if *cfg.RC.Channels.Roll != 0 || *cfg.RC.Channels.Arm != 4 {
		t.Fatalf("channels roll=%d arm=%d", *cfg.RC.Channels.Roll, *cfg.RC.Channels.Arm)
	}
	if cfg.SensorTimeout != 100*time.Millisecond {
		t.Fatalf("sensor_timeout=%s want 100ms", cfg.SensorTimeout)
	}
	if cfg.IMU.Addr != 0x68 || cfg.IMU.SampleRateHz != 225 || cfg.IMU.I2CBus != "/dev/i2c-1" {
		t.Fatalf("imu=%+v", cfg.IMU)
	}
	if cfg.ESC.Channels != 4 || cfg.ESC.FrequencyHz != 400 || cfg.ESC.MinPulse != time.Millisecond || cfg.ESC.MaxPulse != 2*time.Millisecond {
		t.Fatalf("esc=%+v", cfg.ESC)
	}
	if cfg.Diag.Level != "runtime" {
		t.Fatalf("diag.level=%q want runtime", cfg.Diag.Level)
	}
	if cfg.Sim.Enable || cfg.Sim.RateHz != 200 || cfg.Sim.RCPeriod != 14*time.Millisecond {
		t.Fatalf("sim=%+v", cfg.Sim)
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	path := writeTempConfig(t, `
estimator:
  correction_gain: 0.5
  frame_offset_deg: [0, 0, 90]
imu:
  addr: 0x69
  data_ready_line: 17
rc:
  device: /dev/ttyS0
  frame_expected: 20ms
  link_timeout: 500ms
  channels:
    throttle: 0
    roll: 2
sensor_timeout: 50ms
esc:
  min_pulse: 1100us
diag:
  level: debug
  udp_dest: 192.168.1.10:14550
vehicle:
  roll: {kp: 0.8, ki: 0.2}
sim:
  enable: true
  tilt_deg: [5, -3]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Estimator.CorrectionGain != 0.5 || cfg.Estimator.FrameOffsetDeg[2] != 90 {
		t.Fatalf("estimator=%+v", cfg.Estimator)
	}
	if cfg.IMU.Addr != 0x69 || cfg.IMU.DataReadyLine != 17 {
		t.Fatalf("imu=%+v", cfg.IMU)
	}
	if cfg.RC.Device != "/dev/ttyS0" || cfg.RC.FrameExpected != 20*time.Millisecond || cfg.RC.LinkTimeout != 500*time.Millisecond {
		t.Fatalf("rc=%+v", cfg.RC)
	}
	if *cfg.RC.Channels.Throttle != 0 || *cfg.RC.Channels.Roll != 2 || *cfg.RC.Channels.Pitch != 1 {
		t.Fatalf("channels throttle=%d roll=%d pitch=%d", *cfg.RC.Channels.Throttle, *cfg.RC.Channels.Roll, *cfg.RC.Channels.Pitch)
	}
	if cfg.SensorTimeout != 50*time.Millisecond || cfg.ESC.MinPulse != 1100*time.Microsecond {
		t.Fatalf("sensor_timeout=%s min_pulse=%s", cfg.SensorTimeout, cfg.ESC.MinPulse)
	}
	if cfg.Diag.Level != "debug" || cfg.Diag.UDPDest != "192.168.1.10:14550" {
		t.Fatalf("diag=%+v", cfg.Diag)
	}
	if cfg.Vehicle.Roll.KP != 0.8 || cfg.Vehicle.Roll.KI != 0.2 {
		t.Fatalf("vehicle.roll=%+v", cfg.Vehicle.Roll)
	}
	if !cfg.Sim.Enable || cfg.Sim.TiltDeg != [2]float64{5, -3} {
		t.Fatalf("sim=%+v", cfg.Sim)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"link timeout ordering", "rc:\n  frame_expected: 100ms\n  link_timeout: 50ms\n", "rc.link_timeout must exceed rc.frame_expected"},
		{"channel range", "rc:\n  channels:\n    arm: 16\n", "rc.channels.arm must be in [0,15]"},
		{"imu addr", "imu:\n  addr: 0x80\n", "imu.addr must be a 7-bit address"},
		{"imu rate", "imu:\n  sample_rate_hz: 2000\n", "imu.sample_rate_hz must be <= 1125"},
		{"esc pulses", "esc:\n  min_pulse: 2ms\n  max_pulse: 1ms\n", "esc.max_pulse must exceed esc.min_pulse"},
		{"diag level", "diag:\n  level: verbose\n", "diag.level must be one of error, system, runtime, debug"},
		{"gravity tolerance", "estimator:\n  gravity_tolerance: 1.5\n", "estimator.gravity_tolerance must be in [0,1)"},
		{"sim rc period", "sim:\n  enable: true\n  rc_period: 30ms\n", "sim.rc_period must be shorter than rc.frame_expected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "rc: [\n")); err == nil {
		t.Fatalf("expected error")
	}
}
