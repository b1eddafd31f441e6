// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/ar_walk/internal/motion"
)

// StandardGravity converts g to m/s².
const StandardGravity = 9.80665

// biasSamples is how many readings are averaged at start to estimate the
// gravity component on the forward axis.
const biasSamples = 32

// AccelReader reads raw accelerometer counts along the device's
// forward/back axis.
type AccelReader interface {
	ReadAccelZ() (int16, error)
}

// lsbPerG is the sensitivity of the MPU9250 for each ACCEL_FS_SEL value.
var lsbPerG = [4]float64{16384, 8192, 4096, 2048}

// CountsToAccel converts raw counts at the given range setting to m/s².
func CountsToAccel(raw int16, accelRange byte) float64 {
	if int(accelRange) >= len(lsbPerG) {
		accelRange = 0
	}
	return float64(raw) / lsbPerG[accelRange] * StandardGravity
}

type mpuReader struct {
	dev *mpu9250.MPU9250
}

func (r *mpuReader) ReadAccelZ() (int16, error) {
	return r.dev.GetAccelerationZ()
}

// OpenMPU9250 initializes an MPU9250 over SPI and returns a reader for its
// forward axis.
func OpenMPU9250(spiDev, csPin string, accelRange byte) (AccelReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("%w: IMU CS pin %q not found", motion.ErrUnsupported, csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}
	if err := dev.SetAccelRange(accelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%dg)", accelRange, []int{2, 4, 8, 16}[accelRange&3])

	if err := dev.Calibrate(); err != nil {
		log.Printf("Warning: IMU calibration failed: %v", err)
	} else {
		log.Printf("IMU calibration complete")
	}
	return &mpuReader{dev: dev}, nil
}

// GenericIMUConfig describes the polled accelerometer.
type GenericIMUConfig struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte
	Frequency  int // Hz
}

// GenericIMUDriver is the GenericSensor backend: an accelerometer polled at
// a fixed frequency. Readings carry no timing of their own, so every sample
// covers 1/Frequency seconds.
type GenericIMUDriver struct {
	cfg  GenericIMUConfig
	open func() (AccelReader, error)
	stat func(string) (os.FileInfo, error)

	mu     sync.Mutex
	reader AccelReader
	bias   float64
}

func NewGenericIMUDriver(cfg GenericIMUConfig) *GenericIMUDriver {
	if cfg.Frequency <= 0 {
		cfg.Frequency = 60
	}
	d := &GenericIMUDriver{cfg: cfg, stat: os.Stat}
	d.open = func() (AccelReader, error) {
		return OpenMPU9250(cfg.SPIDevice, cfg.CSPin, cfg.AccelRange)
	}
	return d
}

func (d *GenericIMUDriver) Kind() motion.Backend { return motion.GenericSensor }

// Available reports whether the SPI device node exists.
func (d *GenericIMUDriver) Available() bool {
	if d.cfg.SPIDevice == "" {
		return false
	}
	_, err := d.stat(d.cfg.SPIDevice)
	return err == nil
}

// Gate opens the device on construction and measures the gravity bias on
// start. A permission error from the device node is a denial.
func (d *GenericIMUDriver) Gate() motion.Gate {
	return motion.ConstructGate{
		Construct: d.construct,
		Start:     d.calibrate,
	}
}

func (d *GenericIMUDriver) construct() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reader != nil {
		return nil
	}
	r, err := d.open()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %w", motion.ErrPermissionDenied, err)
		}
		return err
	}
	d.reader = r
	return nil
}

func (d *GenericIMUDriver) calibrate(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	d.mu.Lock()
	r := d.reader
	d.mu.Unlock()

	go func() {
		period := time.Second / time.Duration(d.cfg.Frequency)
		bias, err := EstimateBias(ctx, r, d.cfg.AccelRange, biasSamples, period)
		if err != nil {
			ch <- err
			return
		}
		d.mu.Lock()
		d.bias = bias
		d.mu.Unlock()
		log.Printf("IMU: forward axis bias %.3f m/s²", bias)
		ch <- nil
	}()
	return ch
}

// EstimateBias averages n readings taken period apart while the device is
// held still. The result is the gravity component on the forward axis.
func EstimateBias(ctx context.Context, r AccelReader, accelRange byte, n int, period time.Duration) (float64, error) {
	if n <= 0 {
		return 0, nil
	}
	var sum float64
	for i := 0; i < n; i++ {
		raw, err := r.ReadAccelZ()
		if err != nil {
			return 0, fmt.Errorf("%w: IMU bias read: %w", motion.ErrInitialization, err)
		}
		sum += CountsToAccel(raw, accelRange)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(period):
		}
	}
	return sum / float64(n), nil
}

func (d *GenericIMUDriver) NewSource(perm *motion.Permission) motion.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &imuSource{
		perm:       perm,
		reader:     d.reader,
		bias:       d.bias,
		accelRange: d.cfg.AccelRange,
		frequency:  d.cfg.Frequency,
	}
}

type imuSource struct {
	motion.Lifecycle
	perm       *motion.Permission
	reader     AccelReader
	bias       float64
	accelRange byte
	frequency  int

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *imuSource) Kind() motion.Backend { return motion.GenericSensor }

func (s *imuSource) Start(ctx context.Context) error {
	if err := s.Begin(s.perm); err != nil {
		return err
	}
	if s.reader == nil {
		return s.Fail(fmt.Errorf("%w: IMU not opened", motion.ErrInitialization))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	if !s.Activate() {
		s.cancel()
		close(s.done)
		return nil
	}
	go s.poll(ctx)
	log.Printf("IMU: polling at %d Hz", s.frequency)
	return nil
}

func (s *imuSource) poll(ctx context.Context) {
	defer close(s.done)

	dt := 1 / float64(s.frequency)
	ticker := time.NewTicker(time.Second / time.Duration(s.frequency))
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			raw, err := s.reader.ReadAccelZ()
			if err != nil {
				if !failing {
					log.Printf("IMU: accel Z read error: %v", err)
					failing = true
				}
				continue
			}
			failing = false
			s.Emit(motion.Sample{
				Acceleration: CountsToAccel(raw, s.accelRange) - s.bias,
				DT:           dt,
				Timestamp:    now,
				Backend:      motion.GenericSensor,
			})
		}
	}
}

func (s *imuSource) Stop() {
	if !s.Halt() {
		return
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
