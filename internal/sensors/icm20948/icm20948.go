// Package icm20948 is a register-level driver for the ICM-20948 6-axis IMU:
// probe, full-scale and rate setup, data-ready interrupt, raw sample reads.
package icm20948

import (
	"fmt"
	"time"

	"flightcore/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regIntPinCfg  = 0x0F
	regIntEnable1 = 0x11
	regIntStatus1 = 0x1A
	regPwrMgmt1   = 0x06
	regAccelXoutH = 0x2D // accel, gyro, temp are contiguous

	bitReset       = 0x80
	clkAuto        = 0x01
	bitRawDataRdy  = 0x01
	bitIntLatch    = 0x20
	bitIntAnyClear = 0x10

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig1  = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	bitFChoice = 0x01

	baseRateHz = 1125
)

// GyroRange is the gyroscope full scale in deg/s.
type GyroRange int

// AccelRange is the accelerometer full scale in g.
type AccelRange int

var gyroSel = map[GyroRange]byte{250: 0, 500: 1, 1000: 2, 2000: 3}
var accelSel = map[AccelRange]byte{2: 0, 4: 1, 8: 2, 16: 3}

type Options struct {
	// SampleRateHz is the output data rate; the chip divides 1125 Hz.
	SampleRateHz int
	Gyro         GyroRange
	Accel        AccelRange
	// DataReady routes the raw-data-ready interrupt to the INT pin, latched
	// until any register read.
	DataReady bool
}

func DefaultOptions() Options {
	return Options{SampleRateHz: 225, Gyro: 500, Accel: 4, DataReady: true}
}

type Sample struct {
	// Accel in g.
	Ax, Ay, Az float64
	// Gyro in deg/s.
	Gx, Gy, Gz float64
}

type Device struct {
	dev  regIO
	opts Options

	curBank    byte
	scaleAccel float64
	scaleGyro  float64
	buf        [12]byte
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev, opts)
}

func newWithIO(dev regIO, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	def := DefaultOptions()
	if opts.SampleRateHz <= 0 {
		opts.SampleRateHz = def.SampleRateHz
	}
	if opts.SampleRateHz > baseRateHz {
		return nil, fmt.Errorf("icm20948: sample rate %d Hz above %d Hz", opts.SampleRateHz, baseRateHz)
	}
	if opts.Gyro == 0 {
		opts.Gyro = def.Gyro
	}
	if opts.Accel == 0 {
		opts.Accel = def.Accel
	}
	if _, ok := gyroSel[opts.Gyro]; !ok {
		return nil, fmt.Errorf("icm20948: unsupported gyro range %d dps", opts.Gyro)
	}
	if _, ok := accelSel[opts.Accel]; !ok {
		return nil, fmt.Errorf("icm20948: unsupported accel range %d g", opts.Accel)
	}

	d := &Device{dev: dev, opts: opts, curBank: 0xFF}
	if err := d.Probe(); err != nil {
		return nil, err
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// Probe checks WHO_AM_I. It is safe to call after init.
func (d *Device) Probe() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	return nil
}

func (d *Device) init() error {
	_ = d.dev.WriteReg(regIntEnable1, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset returns the chip to bank 0.
	d.curBank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(bank2); err != nil {
		return err
	}
	div := byte(baseRateHz/d.opts.SampleRateHz - 1)
	if err := d.dev.WriteReg(regGyroSmplrt, div); err != nil {
		return fmt.Errorf("icm20948: gyro rate failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelSmplrt2, div); err != nil {
		return fmt.Errorf("icm20948: accel rate failed: %w", err)
	}
	if err := d.dev.WriteReg(regGyroConfig1, gyroSel[d.opts.Gyro]<<1|bitFChoice); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, accelSel[d.opts.Accel]<<1|bitFChoice); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}

	if err := d.setBank(0); err != nil {
		return err
	}
	if d.opts.DataReady {
		if err := d.dev.WriteReg(regIntPinCfg, bitIntLatch|bitIntAnyClear); err != nil {
			return fmt.Errorf("icm20948: int pin config failed: %w", err)
		}
		if err := d.dev.WriteReg(regIntEnable1, bitRawDataRdy); err != nil {
			return fmt.Errorf("icm20948: int enable failed: %w", err)
		}
	}

	d.scaleAccel = float64(d.opts.Accel) / 32768.0
	d.scaleGyro = float64(d.opts.Gyro) / 32768.0
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// DataReady reads and clears the raw-data-ready status.
func (d *Device) DataReady() (bool, error) {
	if err := d.setBank(0); err != nil {
		return false, err
	}
	v, err := d.dev.ReadRegU8(regIntStatus1)
	if err != nil {
		return false, fmt.Errorf("icm20948: int status failed: %w", err)
	}
	return v&bitRawDataRdy != 0, nil
}

// Read returns one accel+gyro sample in g and deg/s. The burst read also
// clears a latched data-ready interrupt.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}
	buf := d.buf[:]
	if err := d.dev.ReadReg(regAccelXoutH, buf); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	word := func(i int) float64 { return float64(int16(buf[i])<<8 | int16(buf[i+1])) }
	return Sample{
		Ax: word(0) * d.scaleAccel,
		Ay: word(2) * d.scaleAccel,
		Az: word(4) * d.scaleAccel,
		Gx: word(6) * d.scaleGyro,
		Gy: word(8) * d.scaleGyro,
		Gz: word(10) * d.scaleGyro,
	}, nil
}
