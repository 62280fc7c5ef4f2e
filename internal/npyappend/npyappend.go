// Package npyappend writes one-dimensional .npy files whose length is not
// known when they are created. The header is rewritten with the current
// length on every Flush and on Close, so a flushed file is always readable.
package npyappend

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// Number is the set of element types an Appender can write.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// headerLen is the fixed size of the magic, version, length and header dict.
// It must be a multiple of 64.
const headerLen = 128

// Appender appends values of type T to a .npy file.
type Appender[T Number] struct {
	file  *os.File
	buf   *bufio.Writer
	descr string
	n     int
}

// Create creates (or truncates) filename and writes an empty array header.
func Create[T Number](filename string) (*Appender[T], error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	var dummy T
	a := &Appender[T]{
		file:  file,
		buf:   bufio.NewWriter(file),
		descr: dtypeFrom(reflect.TypeOf(dummy)),
	}
	if _, err := file.Write(a.header()); err != nil {
		file.Close()
		return nil, err
	}
	return a, nil
}

// Append queues one value.
func (a *Appender[T]) Append(v T) error {
	if err := binary.Write(a.buf, binary.LittleEndian, v); err != nil {
		return err
	}
	a.n++
	return nil
}

// Len returns the number of values appended.
func (a *Appender[T]) Len() int {
	return a.n
}

// Flush writes the queued values and updates the header to count them.
func (a *Appender[T]) Flush() error {
	if err := a.buf.Flush(); err != nil {
		return err
	}
	_, err := a.file.WriteAt(a.header(), 0)
	return err
}

// Close flushes and closes the file.
func (a *Appender[T]) Close() error {
	err := a.Flush()
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// header returns the version 1.0 header for the current length, padded with
// spaces and a newline to headerLen bytes.
func (a *Appender[T]) header() []byte {
	const preamble = 10 // magic, version and the header length
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d,), }", a.descr, a.n)
	dict += strings.Repeat(" ", headerLen-preamble-1-len(dict)) + "\n"

	h := make([]byte, 0, headerLen)
	h = append(h, "\x93NUMPY\x01\x00"...)
	h = binary.LittleEndian.AppendUint16(h, uint16(len(dict)))
	return append(h, dict...)
}

func dtypeFrom(rt reflect.Type) string {
	switch rt.Kind() {
	case reflect.Uint8:
		return "|u1"
	case reflect.Uint16:
		return "<u2"
	case reflect.Uint32:
		return "<u4"
	case reflect.Uint64:
		return "<u8"
	case reflect.Int8:
		return "|i1"
	case reflect.Int16:
		return "<i2"
	case reflect.Int32:
		return "<i4"
	case reflect.Int64:
		return "<i8"
	case reflect.Float32:
		return "<f4"
	case reflect.Float64:
		return "<f8"
	}
	panic(fmt.Sprintf("npyappend: no dtype for %v", rt))
}
