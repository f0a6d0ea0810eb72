package spi

import (
	"bufio"
	"fmt"
	"io"
	"iter"
)

// AppendText appends the output line for tx, without trailing newline:
//
//	RD 01 ca
//	WR STREAM 03 ff 00
func (tx Transaction) AppendText(dst []byte) []byte {
	dst = append(dst, tx.Dir.String()...)
	if tx.Stream {
		dst = append(dst, " STREAM"...)
	}
	dst = fmt.Appendf(dst, " %02x", tx.Addr)
	for _, b := range tx.Data {
		dst = fmt.Appendf(dst, " %02x", b)
	}
	return dst
}

func (tx Transaction) String() string {
	return string(tx.AppendText(nil))
}

// WriteTransactions writes one line per transaction to w and returns the
// number of lines written.
func WriteTransactions(w io.Writer, txs iter.Seq[Transaction]) (n int, err error) {
	bw := bufio.NewWriter(w)
	var line []byte
	for tx := range txs {
		line = append(tx.AppendText(line[:0]), '\n')
		if _, err = bw.Write(line); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}
