package daemon_test

import (
	"bytes"
	"encoding/binary"
)

// Test helpers for building wire data, shared across this package's test files.
func writeTestUint64(buf *bytes.Buffer, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	buf.Write(b)
}

func writeTestString(buf *bytes.Buffer, s string) {
	writeTestUint64(buf, uint64(len(s)))
	buf.WriteString(s)

	pad := (8 - (len(s) % 8)) % 8
	for i := 0; i < pad; i++ {
		buf.WriteByte(0)
	}
}
