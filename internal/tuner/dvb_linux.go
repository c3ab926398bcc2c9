//go:build linux

package tuner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/R167/docsis_meter/internal/docsis"
	"golang.org/x/sys/unix"
)

// Values from linux/dvb/frontend.h and linux/dvb/dmx.h.
const (
	dtvTune           = 1
	dtvFrequency      = 3
	dtvModulation     = 4
	dtvInversion      = 6
	dtvSymbolRate     = 8
	dtvInnerFEC       = 9
	dtvDeliverySystem = 17

	sysDVBCAnnexA = 1
	inversionOff  = 0
	fecAuto       = 9
	qam64         = 3
	qam256        = 5

	feHasLock = 0x10

	dmxInFrontend     = 0
	dmxOutTSTap       = 2
	dmxPESOther       = 20
	dmxImmediateStart = 4

	// MPEG-TS packets are 188 bytes; leave room for 2048 of them.
	dmxBufferSize = 189 * 2048

	lockPollInterval = 50 * time.Millisecond
	dvrPollInterval  = 250 * time.Millisecond
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// dtvProperty mirrors the packed struct dtv_property: cmd, reserved[3],
// a union whose largest member is the 32 byte buffer struct, and result.
type dtvProperty [4 + 12 + 32 + 4 + 12 + ptrSize + 4]byte

func (p *dtvProperty) set(cmd, data uint32) {
	binary.NativeEndian.PutUint32(p[0:4], cmd)
	binary.NativeEndian.PutUint32(p[16:20], data)
}

type dtvProperties struct {
	num   uint32
	props *dtvProperty
}

type dmxPESFilterParams struct {
	pid     uint16
	input   uint32
	output  uint32
	pesType uint32
	flags   uint32
}

func ioc(dir, nr, size uintptr) uint {
	return uint(dir<<30 | size<<16 | uintptr('o')<<8 | nr)
}

var (
	feReadStatus    = ioc(2, 69, 4)
	feSetProperty   = ioc(1, 82, unsafe.Sizeof(dtvProperties{}))
	dmxStop         = ioc(0, 42, 0)
	dmxSetPESFilter = ioc(1, 44, unsafe.Sizeof(dmxPESFilterParams{}))
	dmxSetBufSize   = ioc(0, 45, 0)
)

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// DVB is a Session backed by /dev/dvb/adapterN/{frontend,demux,dvr}M.
type DVB struct {
	root        string
	lockTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	held bool
	fe   int
	dmx  int
	dvr  int
	buf  []byte
}

// NewDVB creates a session rooted at root (normally /dev/dvb).
func NewDVB(root string, lockTimeout time.Duration, logger *slog.Logger) *DVB {
	return &DVB{
		root:        root,
		lockTimeout: lockTimeout,
		logger:      logger,
		fe:          -1,
		dmx:         -1,
		dvr:         -1,
		buf:         make([]byte, dmxBufferSize),
	}
}

// Acquire opens the frontend, demux and dvr devices of the pair.
func (d *DVB) Acquire(ctx context.Context, adapter, tuner int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.held {
		return fmt.Errorf("adapter%d/frontend%d already held: %w", adapter, tuner, ErrDeviceAcquisition)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(d.root, fmt.Sprintf("adapter%d", adapter))
	open := func(name string, flags int) (int, error) {
		path := filepath.Join(dir, fmt.Sprintf("%s%d", name, tuner))
		fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
		if err != nil {
			return -1, fmt.Errorf("open %s: %v: %w", path, err, ErrDeviceAcquisition)
		}
		return fd, nil
	}

	var err error
	if d.fe, err = open("frontend", unix.O_RDWR|unix.O_NONBLOCK); err != nil {
		d.closeAll()
		return err
	}
	if d.dmx, err = open("demux", unix.O_RDWR); err != nil {
		d.closeAll()
		return err
	}
	if d.dvr, err = open("dvr", unix.O_RDONLY|unix.O_NONBLOCK); err != nil {
		d.closeAll()
		return err
	}

	if err := unix.IoctlSetInt(d.dmx, dmxSetBufSize, dmxBufferSize); err != nil {
		d.closeAll()
		return fmt.Errorf("DMX_SET_BUFFER_SIZE: %v: %w", err, ErrDeviceAcquisition)
	}

	d.held = true
	d.logger.Debug("Tuner acquired", "adapter", adapter, "tuner", tuner)
	return nil
}

// Tune programs the frontend for DVB-C Annex A and waits for FE_HAS_LOCK.
func (d *DVB) Tune(ctx context.Context, t docsis.Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.held {
		return ErrNotAcquired
	}

	var modulation uint32
	switch t.Modulation {
	case docsis.QAM64:
		modulation = qam64
	case docsis.QAM256:
		modulation = qam256
	default:
		return fmt.Errorf("tune %s: unsupported modulation %v", t.Label, t.Modulation)
	}

	var props [7]dtvProperty
	props[0].set(dtvDeliverySystem, sysDVBCAnnexA)
	props[1].set(dtvModulation, modulation)
	props[2].set(dtvSymbolRate, docsis.SymbolRate)
	props[3].set(dtvInversion, inversionOff)
	props[4].set(dtvInnerFEC, fecAuto)
	props[5].set(dtvFrequency, t.FrequencyHz())
	props[6].set(dtvTune, 0)

	req := dtvProperties{num: uint32(len(props)), props: &props[0]}
	err := ioctlPtr(d.fe, feSetProperty, unsafe.Pointer(&req))
	runtime.KeepAlive(&props)
	if err != nil {
		return fmt.Errorf("FE_SET_PROPERTY %s: %w", t.Label, err)
	}

	deadline := time.Now().Add(d.lockTimeout)
	for {
		status, err := unix.IoctlGetUint32(d.fe, feReadStatus)
		if err != nil {
			return fmt.Errorf("FE_READ_STATUS %s: %w", t.Label, err)
		}
		if status&feHasLock != 0 {
			d.logger.Debug("Frontend locked", "frequency", t.Label, "status", status)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s after %s (status %#x): %w", t.Label, d.lockTimeout, status, ErrTuneLock)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Sample taps the transport stream on the DOCSIS PID and counts bytes read
// from the dvr device for dur.
func (d *DVB) Sample(ctx context.Context, dur time.Duration) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.held {
		return 0, ErrNotAcquired
	}

	// Discard anything left over from the previous channel.
	d.drain()

	filter := dmxPESFilterParams{
		pid:     docsis.PID,
		input:   dmxInFrontend,
		output:  dmxOutTSTap,
		pesType: dmxPESOther,
		flags:   dmxImmediateStart,
	}
	if err := ioctlPtr(d.dmx, dmxSetPESFilter, unsafe.Pointer(&filter)); err != nil {
		return 0, fmt.Errorf("DMX_SET_PES_FILTER: %w", err)
	}
	defer func() {
		if err := unix.IoctlSetInt(d.dmx, dmxStop, 0); err != nil {
			d.logger.Warn("DMX_STOP failed", "error", err)
		}
	}()

	var count int64
	fds := []unix.PollFd{{Fd: int32(d.dvr), Events: unix.POLLIN | unix.POLLPRI}}
	deadline := time.Now().Add(dur)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return count, nil
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}

		wait := min(remaining, dvrPollInterval)
		n, err := unix.Poll(fds, int(wait.Milliseconds())+1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return count, fmt.Errorf("poll dvr: %w", err)
		}
		if n == 0 || fds[0].Revents == 0 {
			continue
		}

		read, err := d.readAvailable()
		count += read
		if err != nil {
			return count, err
		}
	}
}

// readAvailable reads until the dvr device would block.
func (d *DVB) readAvailable() (int64, error) {
	var total int64
	for {
		n, err := unix.Read(d.dvr, d.buf)
		if n > 0 {
			total += int64(n)
		}
		switch {
		case err == nil && n > 0:
			continue
		case err == nil, errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return total, nil
		case errors.Is(err, unix.EOVERFLOW):
			// The kernel ring buffer overflowed; the data read so far still counts.
			d.logger.Debug("DVR buffer overflow")
			return total, nil
		default:
			return total, fmt.Errorf("read dvr: %w", err)
		}
	}
}

func (d *DVB) drain() {
	for {
		n, err := unix.Read(d.dvr, d.buf)
		if err != nil || n <= 0 {
			return
		}
	}
}

// Release closes all device handles.
func (d *DVB) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.held {
		return nil
	}
	d.held = false
	return d.closeAll()
}

func (d *DVB) closeAll() error {
	var errs []error
	for _, fd := range []*int{&d.dvr, &d.dmx, &d.fe} {
		if *fd < 0 {
			continue
		}
		if err := unix.Close(*fd); err != nil {
			errs = append(errs, err)
		}
		*fd = -1
	}
	return errors.Join(errs...)
}
