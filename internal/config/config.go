// Package config loads the flight controller's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Estimator     EstimatorConfig `yaml:"estimator"`
	IMU           IMUConfig       `yaml:"imu"`
	RC            RCConfig        `yaml:"rc"`
	SensorTimeout time.Duration   `yaml:"sensor_timeout"`
	ESC           ESCConfig       `yaml:"esc"`
	StatusLED     LEDConfig       `yaml:"status_led"`
	Diag          DiagConfig      `yaml:"diag"`
	Vehicle       VehicleConfig   `yaml:"vehicle"`
	Sim           SimConfig       `yaml:"sim"`
}

type EstimatorConfig struct {
	CorrectionGain   float64 `yaml:"correction_gain"`
	GravityTolerance float64 `yaml:"gravity_tolerance"`
	MinDeltaTime     float64 `yaml:"min_delta_time"`
	// FrameOffsetDeg is the sensor mounting offset as roll, pitch, yaw.
	FrameOffsetDeg [3]float64 `yaml:"frame_offset_deg"`
}

type IMUConfig struct {
	I2CBus             string  `yaml:"i2c_bus"`
	Addr               uint16  `yaml:"addr"`
	SampleRateHz       int     `yaml:"sample_rate_hz"`
	GyroRangeDPS       int     `yaml:"gyro_range_dps"`
	AccelRangeG        int     `yaml:"accel_range_g"`
	CalibrationSamples int     `yaml:"calibration_samples"`
	MotionThreshold    float64 `yaml:"motion_threshold"`
	// DataReadyLine is the BCM GPIO wired to the chip's INT pin. Zero polls
	// at the sample rate instead.
	DataReadyLine int `yaml:"data_ready_line"`
}

type RCConfig struct {
	Device        string        `yaml:"device"`
	Baud          int           `yaml:"baud"`
	FrameExpected time.Duration `yaml:"frame_expected"`
	LinkTimeout   time.Duration `yaml:"link_timeout"`
	Channels      ChannelConfig `yaml:"channels"`
}

// ChannelConfig maps stick functions to zero-based receiver channels.
type ChannelConfig struct {
	Roll     *int `yaml:"roll"`
	Pitch    *int `yaml:"pitch"`
	Throttle *int `yaml:"throttle"`
	Yaw      *int `yaml:"yaw"`
	Arm      *int `yaml:"arm"`
}

type ESCConfig struct {
	Chip        string        `yaml:"chip"`
	Channels    int           `yaml:"channels"`
	FrequencyHz int           `yaml:"frequency_hz"`
	MinPulse    time.Duration `yaml:"min_pulse"`
	MaxPulse    time.Duration `yaml:"max_pulse"`
	ArmDelay    time.Duration `yaml:"arm_delay"`
}

type LEDConfig struct {
	// Line is a BCM GPIO; zero disables the LED.
	Line     int           `yaml:"line"`
	Interval time.Duration `yaml:"interval"`
}

type DiagConfig struct {
	Level   string `yaml:"level"`
	UDPDest string `yaml:"udp_dest"`
}

type GainsConfig struct {
	KP   float64 `yaml:"kp"`
	KI   float64 `yaml:"ki"`
	KD   float64 `yaml:"kd"`
	IMax float64 `yaml:"i_max"`
}

type VehicleConfig struct {
	ArmThrottleMax float64     `yaml:"arm_throttle_max"`
	IdleThrottle   float64     `yaml:"idle_throttle"`
	MaxAngleDeg    float64     `yaml:"max_angle_deg"`
	MaxYawRateDeg  float64     `yaml:"max_yaw_rate_deg"`
	Roll           GainsConfig `yaml:"roll"`
	Pitch          GainsConfig `yaml:"pitch"`
	Yaw            GainsConfig `yaml:"yaw"`
}

type SimConfig struct {
	Enable   bool          `yaml:"enable"`
	RateHz   int           `yaml:"rate_hz"`
	TiltDeg  [2]float64    `yaml:"tilt_deg"`
	RCPeriod time.Duration `yaml:"rc_period"`
	// RCDropAfter stops simulated RC frames after this long; zero never.
	RCDropAfter time.Duration `yaml:"rc_drop_after"`
	// ArmAfter raises the simulated arm switch after this long; zero never.
	ArmAfter time.Duration `yaml:"arm_after"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func intPtr(v int) *int { return &v }

func (cfg *Config) applyDefaults() error {
	e := &cfg.Estimator
	if e.CorrectionGain < 0 {
		return fmt.Errorf("estimator.correction_gain must be >= 0")
	}
	if e.GravityTolerance < 0 || e.GravityTolerance >= 1 {
		return fmt.Errorf("estimator.gravity_tolerance must be in [0,1)")
	}
	if e.MinDeltaTime < 0 {
		return fmt.Errorf("estimator.min_delta_time must be >= 0")
	}

	imu := &cfg.IMU
	if imu.I2CBus == "" {
		imu.I2CBus = "/dev/i2c-1"
	}
	if imu.Addr == 0 {
		imu.Addr = 0x68
	}
	if imu.Addr > 0x7F {
		return fmt.Errorf("imu.addr must be a 7-bit address")
	}
	if imu.SampleRateHz <= 0 {
		imu.SampleRateHz = 225
	}
	if imu.SampleRateHz > 1125 {
		return fmt.Errorf("imu.sample_rate_hz must be <= 1125")
	}
	if imu.GyroRangeDPS == 0 {
		imu.GyroRangeDPS = 500
	}
	if imu.AccelRangeG == 0 {
		imu.AccelRangeG = 4
	}
	if imu.CalibrationSamples <= 0 {
		imu.CalibrationSamples = 500
	}
	if imu.MotionThreshold <= 0 {
		imu.MotionThreshold = 0.2
	}
	if imu.DataReadyLine < 0 {
		return fmt.Errorf("imu.data_ready_line must be >= 0")
	}

	rc := &cfg.RC
	if rc.Device == "" {
		rc.Device = "/dev/ttyAMA0"
	}
	if rc.Baud <= 0 {
		rc.Baud = 100000
	}
	if rc.FrameExpected <= 0 {
		rc.FrameExpected = 25 * time.Millisecond
	}
	if rc.LinkTimeout <= 0 {
		rc.LinkTimeout = 250 * time.Millisecond
	}
	if rc.LinkTimeout <= rc.FrameExpected {
		return fmt.Errorf("rc.link_timeout must exceed rc.frame_expected")
	}
	ch := &rc.Channels
	defaults := []struct {
		name string
		p    **int
		def  int
	}{
		{"roll", &ch.Roll, 0},
		{"pitch", &ch.Pitch, 1},
		{"throttle", &ch.Throttle, 2},
		{"yaw", &ch.Yaw, 3},
		{"arm", &ch.Arm, 4},
	}
	for _, d := range defaults {
		if *d.p == nil {
			*d.p = intPtr(d.def)
		}
		if v := **d.p; v < 0 || v > 15 {
			return fmt.Errorf("rc.channels.%s must be in [0,15]", d.name)
		}
	}

	if cfg.SensorTimeout <= 0 {
		cfg.SensorTimeout = 100 * time.Millisecond
	}

	esc := &cfg.ESC
	if esc.Channels <= 0 {
		esc.Channels = 4
	}
	if esc.FrequencyHz <= 0 {
		esc.FrequencyHz = 400
	}
	if esc.MinPulse <= 0 {
		esc.MinPulse = 1000 * time.Microsecond
	}
	if esc.MaxPulse <= 0 {
		esc.MaxPulse = 2000 * time.Microsecond
	}
	if esc.MaxPulse <= esc.MinPulse {
		return fmt.Errorf("esc.max_pulse must exceed esc.min_pulse")
	}
	if esc.ArmDelay <= 0 {
		esc.ArmDelay = 2 * time.Second
	}

	if cfg.StatusLED.Line < 0 {
		return fmt.Errorf("status_led.line must be >= 0")
	}
	if cfg.StatusLED.Interval <= 0 {
		cfg.StatusLED.Interval = 100 * time.Millisecond
	}

	switch cfg.Diag.Level {
	case "":
		cfg.Diag.Level = "runtime"
	case "error", "system", "runtime", "debug":
	default:
		return fmt.Errorf("diag.level must be one of error, system, runtime, debug")
	}

	v := &cfg.Vehicle
	if v.ArmThrottleMax <= 0 {
		v.ArmThrottleMax = 0.05
	}
	if v.IdleThrottle <= 0 {
		v.IdleThrottle = 0.05
	}
	if v.MaxAngleDeg <= 0 {
		v.MaxAngleDeg = 30
	}
	if v.MaxYawRateDeg <= 0 {
		v.MaxYawRateDeg = 180
	}

	s := &cfg.Sim
	if s.RateHz <= 0 {
		s.RateHz = 200
	}
	if s.RCPeriod <= 0 {
		s.RCPeriod = 14 * time.Millisecond
	}
	if s.Enable && s.RCPeriod >= rc.FrameExpected {
		return fmt.Errorf("sim.rc_period must be shorter than rc.frame_expected")
	}
	return nil
}
