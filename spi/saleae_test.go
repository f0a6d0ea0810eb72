package spi

import (
	"bytes"
	"errors"
	"testing"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

func TestBitstreamFromSaleaeTxs(t *testing.T) {
	txs := []analyzers.TxSPI{
		// Single read at address 1, target answers 0xca on the second byte.
		{SDO: []byte{0b000001_0_0, 0x05}, SDI: []byte{0x00, 0xca}},
		// Write stream of one byte, target line shorter than initiator.
		{SDO: []byte{0b000011_1_1, 0x01, 0xbe}, SDI: []byte{0xff}},
	}
	bs := bitstreamFromTxs(txs)
	if bs.Len() != 40 {
		t.Fatalf("want 40 bits, got %d", bs.Len())
	}
	if _, ok := bs.SampleOf(0); ok {
		t.Error("saleae bitstream should not carry sample indices")
	}
	got := decodeText(t, bs)
	const want = "RD 01 ca\nWR STREAM 03 be\n"
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestFromSaleaeIdleChannels(t *testing.T) {
	empty := func() *saleae.DigitalFile { return &saleae.DigitalFile{} }
	bs, err := FromSaleae(empty(), empty(), empty(), empty())
	if !errors.Is(err, errNoTransitions) {
		t.Fatal("want errNoTransitions for idle clock, got", err)
	}
	if bs != nil {
		t.Error("want no bitstream on error")
	}
	if _, err = FromSaleae(nil, nil, nil, nil); !errors.Is(err, errNoTransitions) {
		t.Fatal("want errNoTransitions for missing files, got", err)
	}
}

func TestHoldIdleDataLine(t *testing.T) {
	// Write-only capture: MISO sits idle high and was scanned through MOSI.
	txs := []analyzers.TxSPI{
		{SDO: []byte{0b000010_1_0, 0xaa}, SDI: []byte{0b000010_1_0, 0xaa}},
	}
	holdLine(txs, false, true)
	if !bytes.Equal(txs[0].SDI, []byte{0xff, 0xff}) {
		t.Fatalf("want SDI held high, got %#x", txs[0].SDI)
	}
	if !bytes.Equal(txs[0].SDO, []byte{0b000010_1_0, 0xaa}) {
		t.Fatalf("SDO must be untouched, got %#x", txs[0].SDO)
	}
	if got := decodeText(t, bitstreamFromTxs(txs)); got != "WR 02 aa\n" {
		t.Errorf("want %q, got %q", "WR 02 aa\n", got)
	}
	// Read with an idle low MOSI yields zero bytes on the initiator side.
	txs = []analyzers.TxSPI{{SDO: []byte{1, 2}, SDI: []byte{0x00, 0xca}}}
	holdLine(txs, true, false)
	if !bytes.Equal(txs[0].SDO, []byte{0, 0}) {
		t.Fatalf("want SDO held low, got %#x", txs[0].SDO)
	}
}
