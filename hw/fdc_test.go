package hw

import (
	"bytes"
	"testing"
)

func fdcTestImage() []byte {
	// One cylinder, both heads: 18 sectors of 512 bytes, each filled with
	// its one-based sector number.
	image := make([]byte, fdcHeads*fdcSectorsTrack*fdcSectorSize)
	for s := 0; s < fdcHeads*fdcSectorsTrack; s++ {
		for i := 0; i < fdcSectorSize; i++ {
			image[s*fdcSectorSize+i] = byte(s + 1)
		}
	}
	return image
}

func TestFDCResetAndSenseInterrupt(t *testing.T) {
	b := newInstalledBus(t)

	// Leaving reset raises the interrupt with abnormal-termination status.
	b.IoWriteU8(0x3F2, 0x0C, 4)
	runSlice(b, 100, 0, nil, nil)
	if b.Pic().IRR()&(1<<6) == 0 {
		t.Fatal("no interrupt on line 6 after controller reset")
	}

	b.IoWriteU8(0x3F5, 0x08, 4) // sense interrupt status
	if msr := b.IoReadU8(0x3F4, 4); msr&fdcMSRDIO == 0 {
		t.Fatal("no result phase after sense interrupt")
	}
	if st0 := b.IoReadU8(0x3F5, 4); st0 != 0xC0 {
		t.Errorf("ST0 = %#02x, want 0xC0", st0)
	}
	if pcn := b.IoReadU8(0x3F5, 4); pcn != 0 {
		t.Errorf("PCN = %d, want 0", pcn)
	}
}

func TestFDCSeekAndRecalibrate(t *testing.T) {
	b := newInstalledBus(t)
	b.IoWriteU8(0x3F2, 0x0C, 4)
	runSlice(b, 100, 0, nil, nil)

	b.IoWriteU8(0x3F5, 0x0F, 4) // seek
	b.IoWriteU8(0x3F5, 0x00, 4) // drive 0, head 0
	b.IoWriteU8(0x3F5, 20, 4)   // cylinder
	b.IoWriteU8(0x3F5, 0x08, 4) // sense interrupt
	b.IoReadU8(0x3F5, 4)        // ST0
	if pcn := b.IoReadU8(0x3F5, 4); pcn != 20 {
		t.Errorf("PCN = %d after seek, want 20", pcn)
	}

	b.IoWriteU8(0x3F5, 0x07, 4) // recalibrate
	b.IoWriteU8(0x3F5, 0x00, 4)
	b.IoWriteU8(0x3F5, 0x04, 4) // sense drive status
	b.IoWriteU8(0x3F5, 0x00, 4)
	if st3 := b.IoReadU8(0x3F5, 4); st3&0x10 == 0 {
		t.Errorf("ST3 = %#02x after recalibrate, track 0 bit missing", st3)
	}
}

func TestFDCReadSectorOverDMA(t *testing.T) {
	b := newInstalledBus(t)
	b.Fdc().AttachImage(0, fdcTestImage())

	// DMA channel 2: single mode, device to memory, one sector at 0x8000.
	programDMAChannel(b, 2, 0x44, 0x8000, fdcSectorSize-1, 0x00)

	b.IoWriteU8(0x3F2, 0x0C, 4) // reset off, DMA enabled
	runSlice(b, 100, 0, nil, nil)

	// Read data: cylinder 0, head 0, sector 2.
	for _, v := range []uint8{0x66, 0x00, 0, 0, 2, 2, 9, 0x2A, 0xFF} {
		b.IoWriteU8(0x3F5, v, 4)
	}
	if msr := b.IoReadU8(0x3F4, 4); msr&fdcMSRBusy == 0 {
		t.Fatal("controller not busy during transfer")
	}

	// Let the operation delay and the byte pacing elapse.
	for i := 0; i < 20; i++ {
		runSlice(b, 5000, 0, nil, nil)
	}

	if msr := b.IoReadU8(0x3F4, 4); msr&fdcMSRDIO == 0 {
		t.Fatal("no result phase after transfer")
	}
	var results []uint8
	for i := 0; i < 7; i++ {
		results = append(results, b.IoReadU8(0x3F5, 4))
	}
	if results[0] != 0x00 {
		t.Errorf("ST0 = %#02x, want 0x00", results[0])
	}
	if results[5] != 2 {
		t.Errorf("result sector = %d, want 2", results[5])
	}

	want := bytes.Repeat([]byte{2}, fdcSectorSize)
	if !bytes.Equal(b.SliceAt(0x8000, fdcSectorSize), want) {
		t.Error("sector data did not land in memory")
	}
	if b.Pic().IRR()&(1<<6) == 0 {
		t.Error("no completion interrupt on line 6")
	}
}

func TestFDCWriteSectorOverDMA(t *testing.T) {
	b := newInstalledBus(t)
	image := fdcTestImage()
	b.Fdc().AttachImage(0, image)

	for i := 0; i < fdcSectorSize; i++ {
		if _, err := b.WriteU8(0x9000+i, 0x5A, 0); err != nil {
			t.Fatalf("WriteU8: %v", err)
		}
	}
	programDMAChannel(b, 2, 0x48, 0x9000, fdcSectorSize-1, 0x00)

	b.IoWriteU8(0x3F2, 0x0C, 4)
	runSlice(b, 100, 0, nil, nil)

	// Write data: cylinder 0, head 1, sector 1.
	for _, v := range []uint8{0x45, 0x04, 0, 1, 1, 2, 9, 0x2A, 0xFF} {
		b.IoWriteU8(0x3F5, v, 4)
	}
	for i := 0; i < 20; i++ {
		runSlice(b, 5000, 0, nil, nil)
	}

	start := fdcSectorsTrack * fdcSectorSize // head 1, sector 1
	if !bytes.Equal(image[start:start+fdcSectorSize], bytes.Repeat([]byte{0x5A}, fdcSectorSize)) {
		t.Error("written sector does not match memory source")
	}
}

func TestFDCTransferWithoutImage(t *testing.T) {
	b := newInstalledBus(t)
	b.IoWriteU8(0x3F2, 0x0C, 4)
	runSlice(b, 100, 0, nil, nil)

	for _, v := range []uint8{0x66, 0x00, 0, 0, 1, 2, 9, 0x2A, 0xFF} {
		b.IoWriteU8(0x3F5, v, 4)
	}
	if st0 := b.IoReadU8(0x3F5, 4); st0&0x40 == 0 {
		t.Errorf("ST0 = %#02x, want abnormal termination", st0)
	}
}
