package hw

import "xtem/emu/log"

// NEC µPD765 floppy disk controller. Commands arrive byte-wise through the
// data register; sector transfers are carried out over DMA channel 2 during
// the controller's run slice, and completion raises interrupt line 6.

const (
	fdcPortDOR  = 0x3F2 // digital output register
	fdcPortMSR  = 0x3F4 // main status register
	fdcPortData = 0x3F5

	fdcIrq        = 6
	fdcDmaChannel = 2

	// Main status register bits.
	fdcMSRRQM  = 0x80 // request for master
	fdcMSRDIO  = 0x40 // data direction, set when controller has result bytes
	fdcMSRBusy = 0x10

	// DOR bits.
	fdcDORReset     = 0x04
	fdcDORDmaEnable = 0x08

	// Command opcodes, low 5 bits of the first command byte.
	fdcCmdReadData       = 0x06
	fdcCmdRecalibrate    = 0x07
	fdcCmdSenseInterrupt = 0x08
	fdcCmdSeek           = 0x0F
	fdcCmdSpecify        = 0x03
	fdcCmdSenseDrive     = 0x04
	fdcCmdWriteData      = 0x05

	// Sector transfer pacing. One 512-byte sector at 250 kbit/s takes about
	// 16 ms; the operation delay models head settling plus rotation.
	fdcSectorSize   = 512
	fdcOpDelayUs    = 10_000.0
	fdcByteTimeUs   = 16.0
	fdcSectorsTrack = 9
	fdcHeads        = 2
)

var fdcCmdLengths = map[uint8]int{
	fdcCmdReadData:       9,
	fdcCmdWriteData:      9,
	fdcCmdRecalibrate:    2,
	fdcCmdSenseInterrupt: 1,
	fdcCmdSeek:           3,
	fdcCmdSpecify:        3,
	fdcCmdSenseDrive:     2,
}

type fdcOperation uint8

const (
	fdcOpNone fdcOperation = iota
	fdcOpRead
	fdcOpWrite
)

type fdcDrive struct {
	image    []byte
	cylinder uint8
	head     uint8
	sector   uint8
}

// FDC is the floppy controller and its attached drives.
type FDC struct {
	drives []fdcDrive

	dor        uint8
	busy       bool
	pendingIrq bool

	cmd     []uint8
	cmdLen  int
	results []uint8

	op        fdcOperation
	opDrive   int
	opLBA     int
	opRemain  int
	opDelayUs float64
	opByteUs  float64
	st0       uint8
}

func NewFDC(drives int) *FDC {
	return &FDC{drives: make([]fdcDrive, drives)}
}

func (f *FDC) DriveCount() int { return len(f.drives) }

// AttachImage attaches a raw sector image to a drive.
func (f *FDC) AttachImage(drive int, image []byte) {
	f.drives[drive].image = image
}

func (f *FDC) Reset() {
	f.cmd = f.cmd[:0]
	f.results = f.results[:0]
	f.busy = false
	f.op = fdcOpNone
	f.st0 = 0xC0 // reset leaves an interrupt pending with "abnormal" status
	f.pendingIrq = true
}

func (f *FDC) PortList() []uint16 {
	return []uint16{fdcPortDOR, fdcPortMSR, fdcPortData}
}

func (f *FDC) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch port {
	case fdcPortMSR:
		msr := uint8(fdcMSRRQM)
		if len(f.results) > 0 {
			msr |= fdcMSRDIO
		}
		if f.busy || f.op != fdcOpNone {
			msr |= fdcMSRBusy
		}
		return msr
	case fdcPortData:
		if len(f.results) > 0 {
			out := f.results[0]
			f.results = f.results[1:]
			if len(f.results) == 0 {
				f.busy = false
			}
			return out
		}
	case fdcPortDOR:
		return f.dor
	}
	return NoIOByte
}

func (f *FDC) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch port {
	case fdcPortDOR:
		prev := f.dor
		f.dor = data
		if prev&fdcDORReset == 0 && data&fdcDORReset != 0 {
			// Leaving reset.
			f.Reset()
		}
	case fdcPortData:
		f.writeCommandByte(data, b)
	}
}

func (f *FDC) writeCommandByte(data uint8, b *Bus) {
	if len(f.cmd) == 0 {
		op := data & 0x1F
		length, ok := fdcCmdLengths[op]
		if !ok {
			log.ModFdc.DebugZ("unknown command").Hex8("op", op).End()
			f.results = append(f.results[:0], 0x80) // invalid command ST0
			return
		}
		f.cmdLen = length
	}

	f.cmd = append(f.cmd, data)
	if len(f.cmd) < f.cmdLen {
		return
	}

	cmd := f.cmd
	f.cmd = f.cmd[:0]
	f.execute(cmd, b)
}

func (f *FDC) execute(cmd []uint8, b *Bus) {
	switch cmd[0] & 0x1F {
	case fdcCmdSpecify:
		// Step rate and head timings; accepted and ignored.
	case fdcCmdRecalibrate:
		drive := int(cmd[1] & 0x03)
		if drive < len(f.drives) {
			f.drives[drive].cylinder = 0
		}
		f.st0 = 0x20 | uint8(drive) // seek end
		f.pendingIrq = true
	case fdcCmdSeek:
		drive := int(cmd[1] & 0x03)
		if drive < len(f.drives) {
			f.drives[drive].cylinder = cmd[2]
			f.drives[drive].head = cmd[1] >> 2 & 0x01
		}
		f.st0 = 0x20 | uint8(drive)
		f.pendingIrq = true
	case fdcCmdSenseInterrupt:
		var pcn uint8
		if d := int(f.st0 & 0x03); d < len(f.drives) {
			pcn = f.drives[d].cylinder
		}
		f.results = append(f.results[:0], f.st0, pcn)
		f.busy = true
	case fdcCmdSenseDrive:
		drive := int(cmd[1] & 0x03)
		st3 := uint8(0x28) | uint8(drive) // two-sided, ready
		if drive < len(f.drives) && f.drives[drive].cylinder == 0 {
			st3 |= 0x10 // track 0
		}
		f.results = append(f.results[:0], st3)
		f.busy = true
	case fdcCmdReadData, fdcCmdWriteData:
		f.startTransfer(cmd, b)
	}
}

func (f *FDC) startTransfer(cmd []uint8, b *Bus) {
	drive := int(cmd[1] & 0x03)
	cyl, head, sector := cmd[2], cmd[3], cmd[4]

	if drive >= len(f.drives) || f.drives[drive].image == nil {
		f.st0 = 0x40 | uint8(drive) // abnormal termination
		f.pendingIrq = true
		f.results = f.transferResults(cyl, head, sector)
		return
	}

	f.op = fdcOpRead
	if cmd[0]&0x1F == fdcCmdWriteData {
		f.op = fdcOpWrite
	}
	f.opDrive = drive
	f.opLBA = (int(cyl)*fdcHeads + int(head)) * fdcSectorsTrack * fdcSectorSize
	f.opLBA += (int(sector) - 1) * fdcSectorSize
	f.opRemain = fdcSectorSize
	f.opDelayUs = fdcOpDelayUs
	f.opByteUs = 0
	f.busy = true

	f.drives[drive].cylinder = cyl
	f.drives[drive].head = head
	f.drives[drive].sector = sector

	log.ModFdc.DebugZ("transfer started").
		Int("drive", drive).
		Uint8("cyl", cyl).
		Uint8("head", head).
		Uint8("sector", sector).
		Bool("write", f.op == fdcOpWrite).
		End()
}

func (f *FDC) transferResults(cyl, head, sector uint8) []uint8 {
	return append(f.results[:0], f.st0, 0, 0, cyl, head, sector, 2)
}

// Run advances any in-flight transfer, moving bytes through the DMA
// controller. The DMA runs after this, per the request-then-execute
// convention, so requests enqueued here complete on the same slice.
func (f *FDC) Run(dma *DMA, b *Bus, us float64) {
	if f.pendingIrq {
		f.pendingIrq = false
		if pic := b.Pic(); pic != nil {
			pic.PulseInterrupt(fdcIrq)
		}
	}
	if f.op == fdcOpNone {
		return
	}
	if f.opDelayUs > 0 {
		f.opDelayUs -= us
		return
	}
	if f.dor&fdcDORDmaEnable == 0 || !dma.CheckDMAReady(fdcDmaChannel) {
		return
	}

	f.opByteUs += us
	image := f.drives[f.opDrive].image
	for f.opByteUs >= fdcByteTimeUs && f.opRemain > 0 {
		f.opByteUs -= fdcByteTimeUs

		if f.opLBA >= len(image) {
			f.finishTransfer(b, 0x40)
			return
		}
		switch f.op {
		case fdcOpRead:
			dma.DoDMAWriteU8(b, fdcDmaChannel, image[f.opLBA])
		case fdcOpWrite:
			image[f.opLBA] = dma.DoDMAReadU8(b, fdcDmaChannel)
		}
		f.opLBA++
		f.opRemain--

		if dma.CheckTerminalCount(fdcDmaChannel) {
			f.finishTransfer(b, 0x00)
			return
		}
	}
	if f.opRemain == 0 {
		f.finishTransfer(b, 0x00)
	}
}

func (f *FDC) finishTransfer(b *Bus, st0 uint8) {
	d := &f.drives[f.opDrive]
	f.op = fdcOpNone
	f.st0 = st0 | uint8(f.opDrive)
	f.results = f.transferResults(d.cylinder, d.head, d.sector)
	if pic := b.Pic(); pic != nil {
		pic.PulseInterrupt(fdcIrq)
	}
}
