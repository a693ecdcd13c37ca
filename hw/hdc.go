package hw

import "xtem/emu/log"

// Xebec-style XT hard disk controller. Commands are six-byte blocks written
// to the data port; sector data moves over DMA channel 3 and completion
// raises interrupt line 5.

const (
	hdcPortData    = 0x320
	hdcPortStatus  = 0x321 // write: controller reset
	hdcPortSelect  = 0x322 // write: controller select pulse
	hdcPortDmaIrq  = 0x323 // write: DMA and IRQ enable mask

	hdcIrq        = 5
	hdcDmaChannel = 3

	// Status register bits.
	hdcStatusReq       = 0x01 // ready for command/data byte
	hdcStatusDirection = 0x02 // controller to host
	hdcStatusBusy      = 0x08
	hdcStatusIrq       = 0x20

	// Command opcodes.
	hdcCmdTestReady   = 0x00
	hdcCmdRecalibrate = 0x01
	hdcCmdSense       = 0x03
	hdcCmdRead        = 0x08
	hdcCmdWrite       = 0x0A

	hdcCmdBlockLen = 6

	// Fixed drive geometry: 306 cylinders, 4 heads, 17 sectors per track.
	hdcHeads        = 4
	hdcSectorsTrack = 17
	hdcSectorSize   = 512

	hdcOpDelayUs  = 2000.0
	hdcByteTimeUs = 1.0
)

type hdcOperation uint8

const (
	hdcOpNone hdcOperation = iota
	hdcOpRead
	hdcOpWrite
)

type hdcDrive struct {
	image    []byte
	cylinder uint16
}

// HDC is the hard disk controller and its attached drives.
type HDC struct {
	drives []hdcDrive

	dmaEnabled bool
	irqEnabled bool
	irqPending bool

	cmd        []uint8
	status     uint8 // completion status byte for the result phase
	haveStatus bool

	op        hdcOperation
	opDrive   int
	opLBA     int
	opRemain  int
	opDelayUs float64
	opByteUs  float64
}

func NewHDC(drives int) *HDC {
	return &HDC{drives: make([]hdcDrive, drives)}
}

func (h *HDC) DriveCount() int { return len(h.drives) }

// AttachImage attaches a raw sector image to a drive.
func (h *HDC) AttachImage(drive int, image []byte) {
	h.drives[drive].image = image
}

func (h *HDC) Reset() {
	h.cmd = h.cmd[:0]
	h.op = hdcOpNone
	h.haveStatus = false
	h.irqPending = false
}

func (h *HDC) PortList() []uint16 {
	return []uint16{hdcPortData, hdcPortStatus, hdcPortSelect, hdcPortDmaIrq}
}

func (h *HDC) ReadU8(port uint16, delta TimeUnit) uint8 {
	switch port {
	case hdcPortData:
		if h.haveStatus {
			h.haveStatus = false
			return h.status
		}
	case hdcPortStatus:
		status := uint8(hdcStatusReq)
		if h.haveStatus {
			status |= hdcStatusDirection
		}
		if h.op != hdcOpNone {
			status |= hdcStatusBusy
		}
		if h.irqPending {
			status |= hdcStatusIrq
		}
		return status
	}
	return NoIOByte
}

func (h *HDC) WriteU8(port uint16, data uint8, b *Bus, delta TimeUnit) {
	switch port {
	case hdcPortData:
		h.cmd = append(h.cmd, data)
		if len(h.cmd) >= hdcCmdBlockLen {
			cmd := h.cmd
			h.cmd = h.cmd[:0]
			h.execute(cmd, b)
		}
	case hdcPortStatus:
		h.Reset()
	case hdcPortSelect:
		// Select pulse; the controller immediately requests a command block.
		h.cmd = h.cmd[:0]
	case hdcPortDmaIrq:
		h.dmaEnabled = data&0x01 != 0
		h.irqEnabled = data&0x02 != 0
	}
}

// execute decodes a six-byte command block: opcode, drive/head, sector and
// cylinder low bits, cylinder high bits, block count, control byte.
func (h *HDC) execute(cmd []uint8, b *Bus) {
	opcode := cmd[0]
	drive := int(cmd[1] >> 5 & 0x01)
	head := int(cmd[1] & 0x1F)
	sector := int(cmd[2] & 0x3F)
	cylinder := int(cmd[2]>>6)<<8 | int(cmd[3])
	count := int(cmd[4])

	switch opcode {
	case hdcCmdTestReady, hdcCmdRecalibrate, hdcCmdSense:
		if opcode == hdcCmdRecalibrate && drive < len(h.drives) {
			h.drives[drive].cylinder = 0
		}
		h.complete(b, uint8(drive)<<5)
	case hdcCmdRead, hdcCmdWrite:
		if drive >= len(h.drives) || h.drives[drive].image == nil {
			h.complete(b, uint8(drive)<<5|0x02) // error bit
			return
		}
		h.op = hdcOpRead
		if opcode == hdcCmdWrite {
			h.op = hdcOpWrite
		}
		h.opDrive = drive
		h.opLBA = ((cylinder*hdcHeads + head) * hdcSectorsTrack + sector) * hdcSectorSize
		h.opRemain = count * hdcSectorSize
		h.opDelayUs = hdcOpDelayUs
		h.opByteUs = 0
		h.drives[drive].cylinder = uint16(cylinder)

		log.ModHdc.DebugZ("transfer started").
			Int("drive", drive).
			Int("cyl", cylinder).
			Int("head", head).
			Int("sector", sector).
			Int("count", count).
			Bool("write", h.op == hdcOpWrite).
			End()
	default:
		log.ModHdc.DebugZ("unknown command").Hex8("op", opcode).End()
		h.complete(b, 0x02)
	}
}

func (h *HDC) complete(b *Bus, status uint8) {
	h.op = hdcOpNone
	h.status = status
	h.haveStatus = true
	if h.irqEnabled {
		h.irqPending = true
		if pic := b.Pic(); pic != nil {
			pic.PulseInterrupt(hdcIrq)
		}
	}
}

// Run advances any in-flight transfer through the DMA controller, which runs
// after the storage controllers on the same slice.
func (h *HDC) Run(dma *DMA, b *Bus, us float64) {
	if h.op == hdcOpNone {
		return
	}
	if h.opDelayUs > 0 {
		h.opDelayUs -= us
		return
	}
	if !h.dmaEnabled || !dma.CheckDMAReady(hdcDmaChannel) {
		return
	}

	h.opByteUs += us
	image := h.drives[h.opDrive].image
	for h.opByteUs >= hdcByteTimeUs && h.opRemain > 0 {
		h.opByteUs -= hdcByteTimeUs

		if h.opLBA >= len(image) {
			h.complete(b, uint8(h.opDrive)<<5|0x02)
			return
		}
		switch h.op {
		case hdcOpRead:
			dma.DoDMAWriteU8(b, hdcDmaChannel, image[h.opLBA])
		case hdcOpWrite:
			image[h.opLBA] = dma.DoDMAReadU8(b, hdcDmaChannel)
		}
		h.opLBA++
		h.opRemain--

		if dma.CheckTerminalCount(hdcDmaChannel) {
			h.complete(b, uint8(h.opDrive)<<5)
			return
		}
	}
	if h.opRemain == 0 {
		h.complete(b, uint8(h.opDrive)<<5)
	}
}
