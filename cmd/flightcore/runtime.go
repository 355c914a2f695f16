package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"flightcore/internal/actuator"
	"flightcore/internal/attitude"
	"flightcore/internal/config"
	"flightcore/internal/core"
	"flightcore/internal/diag"
	"flightcore/internal/esc"
	"flightcore/internal/failsafe"
	"flightcore/internal/gpio"
	"flightcore/internal/i2c"
	"flightcore/internal/imu"
	"flightcore/internal/rc"
	"flightcore/internal/sensors/icm20948"
	"flightcore/internal/sim"
	"flightcore/internal/udp"
	"flightcore/internal/vehicle"
)

const statusInterval = 5 * time.Second

type runtime struct {
	cfg     config.Config
	clock   attitude.Clock
	sink    *diag.Sink
	vehicle *vehicle.Vehicle
	core    *core.Core
	timer   *failsafe.Timer
	reader  *rc.Reader

	imu    *imu.Device
	port   rc.Port
	driver actuator.Driver
	esc    *esc.ESC
	bus    *i2c.Bus
	led    *gpio.Output
	udp    *udp.Broadcaster

	// sampleRateHz drives the ticker when no data-ready line is wired.
	sampleRateHz int
}

// missingChip stands in for an IMU that failed to initialize, so the core
// can report it and stay in calibration.
type missingChip struct{ err error }

func (c missingChip) Read() (icm20948.Sample, error) { return icm20948.Sample{}, c.err }
func (c missingChip) Probe() error                   { return c.err }

func newRuntime(cfg config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg, clock: attitude.NewMonotonicClock()}

	level, err := diag.ParseLevel(cfg.Diag.Level)
	if err != nil {
		return nil, err
	}
	var writers []diag.Writer
	if cfg.Diag.UDPDest != "" {
		b, err := udp.NewBroadcaster(cfg.Diag.UDPDest)
		if err != nil {
			return nil, fmt.Errorf("diag udp: %w", err)
		}
		rt.udp = b
		writers = append(writers, b)
		log.Printf("diag udp dest=%s", b.Dest())
	}
	rt.sink = diag.New(level, log.Default(), writers...)

	chmap := channelMap(cfg.RC.Channels)
	var build error
	if cfg.Sim.Enable {
		build = rt.buildSim(chmap)
	} else {
		build = rt.buildHardware()
	}
	if build != nil {
		rt.close()
		return nil, build
	}

	rt.vehicle = vehicle.New(vehicle.Config{ArmThrottleMax: cfg.Vehicle.ArmThrottleMax}, rt.sink)
	stab := vehicle.NewStabilizer(stabilizerConfig(cfg.Vehicle), rt.vehicle, rt.clock)

	rt.core = core.New(core.Config{
		Estimator: estimatorConfig(cfg.Estimator),
		Failsafe:  failsafe.Config{SensorTimeout: cfg.SensorTimeout},
		Channels:  cfg.ESC.Channels,
	}, core.Deps{
		Clock:      rt.clock,
		IMU:        rt.imu,
		Controller: stab,
		Driver:     rt.driver,
		Pilot:      rt.vehicle,
		Sink:       rt.sink,
	})

	rt.reader = rc.NewReader(rt.port, chmap, rt.core.OnFrameReceived)
	rt.core.SetReceiver(rt.reader)
	rt.timer = failsafe.NewTimer(cfg.RC.FrameExpected, cfg.RC.LinkTimeout, rt.core.OnFrameExpected, rt.core.OnLinkTimeout)
	rt.core.SetTimer(rt.timer)
	return rt, nil
}

func (rt *runtime) buildSim(chmap rc.ChannelMap) error {
	s := rt.cfg.Sim
	chip := sim.NewIMU(sim.IMUConfig{
		RollDeg:  s.TiltDeg[0],
		PitchDeg: s.TiltDeg[1],
		// A small constant offset for the bias calibration to remove.
		GyroBiasDPS: r3.Vec{X: 0.4, Y: -0.3, Z: 0.2},
	})
	rt.imu = imu.New(chip, imuConfig(rt.cfg.IMU))
	rt.port = sim.NewRC(sim.RCConfig{
		Period:    s.RCPeriod,
		DropAfter: s.RCDropAfter,
		ArmAfter:  s.ArmAfter,
		Channels:  chmap,
	}, rt.clock.Elapsed)
	rt.driver = &sim.Motors{}
	rt.sampleRateHz = s.RateHz
	return nil
}

func (rt *runtime) buildHardware() error {
	c := rt.cfg

	bus, err := i2c.Open(c.IMU.I2CBus)
	if err != nil {
		return err
	}
	rt.bus = bus
	var chip imu.Chip
	dev, err := icm20948.New(bus.Dev(c.IMU.Addr), icm20948.Options{
		SampleRateHz: c.IMU.SampleRateHz,
		Gyro:         icm20948.GyroRange(c.IMU.GyroRangeDPS),
		Accel:        icm20948.AccelRange(c.IMU.AccelRangeG),
		DataReady:    c.IMU.DataReadyLine > 0,
	})
	if err != nil {
		log.Printf("imu init failed: %v", err)
		chip = missingChip{err: err}
	} else {
		chip = dev
	}
	rt.imu = imu.New(chip, imuConfig(c.IMU))
	rt.sampleRateHz = c.IMU.SampleRateHz

	port, err := rc.OpenSerial(c.RC.Device, c.RC.Baud)
	if err != nil {
		return err
	}
	rt.port = port

	e, err := esc.Open(esc.Config{
		Chip:        c.ESC.Chip,
		Channels:    c.ESC.Channels,
		FrequencyHz: c.ESC.FrequencyHz,
		MinPulse:    c.ESC.MinPulse,
		MaxPulse:    c.ESC.MaxPulse,
		ArmDelay:    c.ESC.ArmDelay,
	})
	if err != nil {
		return err
	}
	rt.esc = e
	rt.driver = e

	if c.StatusLED.Line > 0 {
		led, err := gpio.OpenOutput(c.StatusLED.Line)
		if err != nil {
			// The LED is cosmetic; fly without it.
			log.Printf("status led init failed: %v", err)
		} else {
			rt.led = led
		}
	}
	return nil
}

// run blocks until ctx is done. Motor output is forced to zero on the way
// out whatever the mode.
func (rt *runtime) run(ctx context.Context) error {
	sinkCtx, stopSink := context.WithCancel(context.Background())
	rt.sink.Start(sinkCtx)
	defer func() {
		stopSink()
		rt.sink.Wait()
	}()
	defer rt.close()

	rt.core.Startup(time.Sleep)

	if rt.esc != nil {
		log.Printf("esc arming for %s", rt.cfg.ESC.ArmDelay)
		if err := rt.esc.Arm(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	var wg sync.WaitGroup
	rt.timer.Start()
	defer rt.timer.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.reader.Run(ctx); err != nil && ctx.Err() == nil {
			rt.sink.Message(diag.LevelError, "rc reader stopped: %v", err)
		}
	}()

	watch := rt.startSamples(ctx, &wg)

	if rt.led != nil && watch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mirrorLevel(ctx, rt.core.Running(), watch, rt.led, rt.cfg.StatusLED.Interval)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.reportStatus(ctx)
	}()

	// The core reports the switch to RUNNING through the sink.
	select {
	case <-rt.core.Running():
	case <-ctx.Done():
	}

	if rt.led != nil {
		rt.vehicle.RunLED(ctx, rt.led, rt.cfg.StatusLED.Interval)
	} else {
		<-ctx.Done()
	}

	// Unblock the reader before waiting on it.
	if watch != nil {
		if err := watch.Close(); err != nil {
			log.Printf("data-ready line close: %v", err)
		}
	}
	if rt.port != nil {
		_ = rt.port.Close()
	}
	wg.Wait()

	if err := rt.core.Gate.Stop(); err != nil {
		log.Printf("motor stop failed: %v", err)
	}
	return nil
}

// startSamples drives OnSampleReady from the data-ready line when one is
// wired, otherwise from a ticker at the sample rate. The returned watch is
// nil in the ticker case.
func (rt *runtime) startSamples(ctx context.Context, wg *sync.WaitGroup) *gpio.Watch {
	if line := rt.cfg.IMU.DataReadyLine; line > 0 && !rt.cfg.Sim.Enable {
		w, err := gpio.WatchRising(line, rt.core.OnSampleReady)
		if err == nil {
			log.Printf("imu data-ready on GPIO%d", line)
			return w
		}
		log.Printf("data-ready line init failed, polling instead: %v", err)
	}

	rate := rt.sampleRateHz
	if rate <= 0 {
		rate = 200
	}
	t := time.NewTicker(time.Second / time.Duration(rate))
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rt.core.OnSampleReady()
			}
		}
	}()
	return nil
}

// mirrorLevel copies the data-ready level onto the LED until the core is
// running.
func mirrorLevel(ctx context.Context, running <-chan struct{}, watch *gpio.Watch, led *gpio.Output, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-running:
			return
		case <-t.C:
			level, err := watch.Level()
			if err != nil {
				continue
			}
			_ = led.Set(level)
		}
	}
}

func (rt *runtime) reportStatus(ctx context.Context) {
	t := time.NewTicker(statusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := rt.core.Status()
			rt.sink.Message(diag.LevelRuntime,
				"status mode=%s vehicle=%s failsafe=%s frames=%d cycles=%d read_errs=%d dropped=%d",
				st.Mode, rt.vehicle.Mode(), st.Failsafe.Reasons, st.Failsafe.Frames,
				st.Control.Cycles, st.Control.ReadErrors, rt.sink.Dropped())
		}
	}
}

func (rt *runtime) close() {
	var errs []error
	if rt.esc != nil {
		errs = append(errs, rt.esc.Close())
	}
	if rt.port != nil {
		_ = rt.port.Close()
	}
	if rt.led != nil {
		errs = append(errs, rt.led.Close())
	}
	if rt.bus != nil {
		errs = append(errs, rt.bus.Close())
	}
	if rt.udp != nil {
		errs = append(errs, rt.udp.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func channelMap(c config.ChannelConfig) rc.ChannelMap {
	m := rc.DefaultChannelMap()
	if c.Roll != nil {
		m.Roll = *c.Roll
	}
	if c.Pitch != nil {
		m.Pitch = *c.Pitch
	}
	if c.Throttle != nil {
		m.Throttle = *c.Throttle
	}
	if c.Yaw != nil {
		m.Yaw = *c.Yaw
	}
	if c.Arm != nil {
		m.Arm = *c.Arm
	}
	return m
}

func estimatorConfig(c config.EstimatorConfig) attitude.Config {
	off := c.FrameOffsetDeg
	return attitude.Config{
		CorrectionGain:   c.CorrectionGain,
		ExpectedGravity:  1.0, // samples are in g
		GravityTolerance: c.GravityTolerance,
		MinDeltaTime:     c.MinDeltaTime,
		FrameOffset:      attitude.FromEuler(deg2rad(off[0]), deg2rad(off[1]), deg2rad(off[2])),
	}
}

func imuConfig(c config.IMUConfig) imu.Config {
	return imu.Config{CalibrationSamples: c.CalibrationSamples, MotionThreshold: c.MotionThreshold}
}

func stabilizerConfig(c config.VehicleConfig) vehicle.StabilizerConfig {
	gains := func(g config.GainsConfig) vehicle.Gains {
		return vehicle.Gains{KP: g.KP, KI: g.KI, KD: g.KD, IMax: g.IMax}
	}
	return vehicle.StabilizerConfig{
		Roll:         gains(c.Roll),
		Pitch:        gains(c.Pitch),
		Yaw:          gains(c.Yaw),
		MaxAngle:     deg2rad(c.MaxAngleDeg),
		MaxYawRate:   deg2rad(c.MaxYawRateDeg),
		IdleThrottle: c.IdleThrottle,
	}
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
