package spi

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/soypat/spiwave/internal/slog"
)

func mustBitstream(t *testing.T, mosi, miso string) *Bitstream {
	t.Helper()
	bs, err := ParseBitstream(mosi, miso)
	if err != nil {
		t.Fatal(err)
	}
	return bs
}

func decodeText(t *testing.T, bs *Bitstream) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := WriteTransactions(&buf, bs.Transactions()); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestDecodeScenarios(t *testing.T) {
	for _, test := range []struct {
		name       string
		mosi, miso string
		want       string
	}{
		{
			name: "single read",
			mosi: "000001_0_0_00000101",
			miso: "00000000_11001010",
			want: "RD 01 ca\n",
		},
		{
			name: "single write",
			mosi: "000010_1_0_10101010",
			miso: "00000000_00000000",
			want: "WR 02 aa\n",
		},
		{
			name: "stream read",
			mosi: "000011_0_1_00000010 00000000 00000000",
			miso: "00000000_00000000 11111111 00000000",
			want: "RD STREAM 03 ff 00\n",
		},
		{
			name: "trailing fragment",
			mosi: "000001_0_0_00000101 1010101010",
			miso: "00000000_11001010 1111111111",
			want: "RD 01 ca\n",
		},
		{
			name: "stream write empty",
			mosi: "111111_1_1_00000000",
			miso: "11111111_11111111",
			want: "WR STREAM 3f\n",
		},
		{
			name: "stream write reads mosi",
			mosi: "000100_1_1_00000001 11011110",
			miso: "11111111_11111111 10101101",
			want: "WR STREAM 04 de\n",
		},
		{
			name: "truncated stream",
			mosi: "000001_0_0_00000101 000011_0_1_00000011 00000000 00000000",
			miso: "00000000_11001010 00000000_00000000 11111111 11111111",
			want: "RD 01 ca\n",
		},
		{
			name: "empty",
			want: "",
		},
		{
			name: "back to back",
			mosi: "000001_0_0_00000000 000011_1_1_00000010 10111110 11101111 000010_1_0_10101010",
			miso: "00000000_11001010 00000000_00000000 00000000 00000000 00000000_00000000",
			want: "RD 01 ca\nWR STREAM 03 be ef\nWR 02 aa\n",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got := decodeText(t, mustBitstream(t, test.mosi, test.miso))
			if got != test.want {
				t.Errorf("want %q, got %q", test.want, got)
			}
		})
	}
}

func TestDecoderState(t *testing.T) {
	bs := mustBitstream(t,
		"000011_0_1_00000010 00000000 00000000 101",
		"00000000_00000000 11111111 00000000 000",
	)
	d := NewDecoder(bs)
	tx, ok := d.Next()
	if !ok {
		t.Fatal("expected a transaction")
	}
	want := Transaction{Dir: Read, Addr: 3, Stream: true, Data: []byte{0xff, 0x00}, Offset: 0, Bits: 32}
	if diff := cmp.Diff(want, tx); diff != "" {
		t.Error("transaction mismatch (-want +got):\n" + diff)
	}
	if d.Cursor() != 32 {
		t.Errorf("want cursor at 32, got %d", d.Cursor())
	}
	if _, ok = d.Next(); ok {
		t.Fatal("expected end of frames")
	}
	if !d.Done() || d.Discarded() != 3 {
		t.Errorf("want done with 3 discarded bits, got done=%v discarded=%d", d.Done(), d.Discarded())
	}
	// Terminal state is sticky.
	if _, ok = d.Next(); ok {
		t.Fatal("decoder restarted after done")
	}
}

// randomFrames builds a random valid frame sequence and the transactions it encodes.
func randomFrames(rng *rand.Rand, n int) (mosi, miso Bits, txs []Transaction) {
	appendByte := func(b *Bits, v byte) {
		for bit := 7; bit >= 0; bit-- {
			b.Append(v&(1<<bit) != 0)
		}
	}
	for k := 0; k < n; k++ {
		tx := Transaction{
			Dir:    Direction(rng.Intn(2)),
			Addr:   uint8(rng.Intn(64)),
			Stream: rng.Intn(2) == 1,
			Offset: mosi.Len(),
		}
		header := tx.Addr<<2 | byte(tx.Dir)<<1 | b2u[byte](tx.Stream)
		appendByte(&mosi, header)
		appendByte(&miso, byte(rng.Intn(256)))
		length := 1
		if tx.Stream {
			length = rng.Intn(6)
			appendByte(&mosi, byte(length))
			appendByte(&miso, byte(rng.Intn(256)))
		}
		tx.Data = make([]byte, length)
		for j := range tx.Data {
			tx.Data[j] = byte(rng.Intn(256))
			noise := byte(rng.Intn(256))
			if tx.Dir == Read {
				appendByte(&mosi, noise)
				appendByte(&miso, tx.Data[j])
			} else {
				appendByte(&mosi, tx.Data[j])
				appendByte(&miso, noise)
			}
		}
		tx.Bits = mosi.Len() - tx.Offset
		txs = append(txs, tx)
	}
	return mosi, miso, txs
}

func TestDecodeRandomFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		mosi, miso, want := randomFrames(rng, 1+rng.Intn(20))
		bs, err := NewBitstream(mosi, miso)
		if err != nil {
			t.Fatal(err)
		}
		got := Decode(bs)
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("iteration %d mismatch (-want +got):\n%s", round, diff)
		}
		// Determinism: decoding again from scratch yields the same sequence.
		if diff := cmp.Diff(got, Decode(bs), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("iteration %d second decode differs:\n%s", round, diff)
		}
		for _, tx := range got {
			if tx.Addr > 63 {
				t.Fatalf("address %d out of range", tx.Addr)
			}
			if tx.Stream && tx.Bits != HeaderBits+8*len(tx.Data) {
				t.Fatalf("stream of %d bytes consumed %d bits", len(tx.Data), tx.Bits)
			}
		}
		// Truncation safety: 1 to 15 stray bits never change the decoded frames.
		for extra := 1; extra < HeaderBits; extra++ {
			m, s := mosi.Slice(0, mosi.Len()), miso.Slice(0, miso.Len())
			for k := 0; k < extra; k++ {
				m.Append(rng.Intn(2) == 1)
				s.Append(rng.Intn(2) == 1)
			}
			bs, _ := NewBitstream(m, s)
			if diff := cmp.Diff(want, Decode(bs), cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("iteration %d with %d stray bits:\n%s", round, extra, diff)
			}
		}
	}
}

func TestDecodeEarlyBreak(t *testing.T) {
	bs := mustBitstream(t,
		"000001_1_0_00000001 000010_1_0_00000010",
		"00000000_00000000 00000000_00000000",
	)
	d := NewDecoder(bs)
	for tx := range d.All() {
		if tx.Addr != 1 {
			t.Fatal("unexpected first transaction", tx)
		}
		break
	}
	tx, ok := d.Next()
	if !ok || tx.Addr != 2 {
		t.Fatalf("decoder should resume after early break, got %v ok=%v", tx, ok)
	}
}

func TestTransactionString(t *testing.T) {
	for _, test := range []struct {
		tx   Transaction
		want string
	}{
		{Transaction{Dir: Read, Addr: 1, Data: []byte{0xca}}, "RD 01 ca"},
		{Transaction{Dir: Write, Addr: 63, Data: []byte{0x0a}}, "WR 3f 0a"},
		{Transaction{Dir: Read, Addr: 3, Stream: true, Data: []byte{0xff, 0}}, "RD STREAM 03 ff 00"},
		{Transaction{Dir: Write, Addr: 0, Stream: true}, "WR STREAM 00"},
	} {
		if got := test.tx.String(); got != test.want {
			t.Errorf("want %q, got %q", test.want, got)
		}
	}
}

func TestBits(t *testing.T) {
	b, err := ParseBits("1010_0101 111")
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 11 || b.String() != "10100101111" {
		t.Fatalf("unexpected bits %s", b.String())
	}
	if v, ok := b.Uint(0, 8); !ok || v != 0xa5 {
		t.Errorf("want 0xa5, got %#x ok=%v", v, ok)
	}
	if v, ok := b.Uint(5, 6); !ok || v != 0b101111 {
		t.Errorf("want 0b101111, got %#b ok=%v", v, ok)
	}
	if _, ok := b.Uint(4, 8); ok {
		t.Error("read past end should fail")
	}
	if _, ok := b.Uint(-1, 2); ok {
		t.Error("negative offset should fail")
	}
	if _, err := ParseBits("10x1"); err == nil || !strings.Contains(err.Error(), "at 2") {
		t.Error("want error locating bad character, got", err)
	}
	if _, err := ParseBitstream("101", "10"); err == nil {
		t.Error("want length mismatch error")
	}
}

func TestDecoderLogsTrace(t *testing.T) {
	tr := synth(t, Mode0, "000001_0_0_00000101 1010101010", "00000000_11001010 0000000000")
	bs, err := Sample(tr, CaptureConfig{Signals: DefaultSignals()})
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	d := NewDecoder(bs)
	d.SetLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	for range d.All() {
	}
	out := logs.String()
	// First bit is clocked on sample 2, after the two preamble samples.
	for _, want := range []string{"spi:frame", `tx="RD 01 ca"`, "sample=2", "spi:truncated", "discarded=10"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestBitstreamAccessorsCopy(t *testing.T) {
	bs := mustBitstream(t, "000001_0_0_00000101", "00000000_11001010")
	mosi := bs.MOSI()
	for k := 0; k < 16; k++ {
		mosi.Append(false)
	}
	miso := bs.MISO()
	miso.Append(true)
	if bs.Len() != 16 || bs.MOSI().Len() != 16 || bs.MISO().Len() != 16 {
		t.Fatalf("bitstream changed through accessor copies: len=%d", bs.Len())
	}
	if got := decodeText(t, bs); got != "RD 01 ca\n" {
		t.Errorf("want %q, got %q", "RD 01 ca\n", got)
	}
}
