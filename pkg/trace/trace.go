// Package trace records frame descriptors published by the encoder ring
// consumer to a file and reads them back. Each record is a length-prefixed
// protobuf message, so traces stay readable by generic protobuf tooling.
package trace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/encoder"
)

// Magic starts every trace file
var Magic = []byte("SOLOTRC1")

// Record field numbers
const (
	fieldSeq        protowire.Number = 1
	fieldChannel    protowire.Number = 2
	fieldVop        protowire.Number = 3
	fieldMPEGOffset protowire.Number = 4
	fieldMPEGSize   protowire.Number = 5
	fieldJPEGOffset protowire.Number = 6
	fieldJPEGSize   protowire.Number = 7
	fieldTimestamp  protowire.Number = 8
)

// maxRecordSize bounds a single record on read
const maxRecordSize = 1 << 10

// Marshal encodes one descriptor as a protobuf message
func Marshal(d encoder.FrameDescriptor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, d.Seq)
	b = protowire.AppendTag(b, fieldChannel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Channel))
	b = protowire.AppendTag(b, fieldVop, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Vop))
	b = protowire.AppendTag(b, fieldMPEGOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.MPEGOffset))
	b = protowire.AppendTag(b, fieldMPEGSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.MPEGSize))
	b = protowire.AppendTag(b, fieldJPEGOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.JPEGOffset))
	b = protowire.AppendTag(b, fieldJPEGSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.JPEGSize))
	if !d.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(d.Timestamp.UnixNano()))
	}
	return b
}

// Unmarshal decodes a descriptor message. Unknown fields are skipped.
func Unmarshal(b []byte) (encoder.FrameDescriptor, error) {
	var d encoder.FrameDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, corrupt("tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return d, corrupt(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSeq:
				d.Seq = v
			case fieldChannel:
				d.Channel = int(v)
			case fieldVop:
				d.Vop = encoder.VopType(v)
			case fieldMPEGOffset:
				d.MPEGOffset = uint32(v)
			case fieldMPEGSize:
				d.MPEGSize = uint32(v)
			case fieldJPEGOffset:
				d.JPEGOffset = uint32(v)
			case fieldJPEGSize:
				d.JPEGSize = uint32(v)
			}

		case num == fieldTimestamp && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return d, corrupt("timestamp", protowire.ParseError(n))
			}
			b = b[n:]
			d.Timestamp = time.Unix(0, int64(v))

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return d, corrupt(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return d, nil
}

func corrupt(what string, err error) error {
	return driver.NewErrorWithCause(driver.StatusCorrupt, "trace "+what, err)
}

// Writer appends descriptor records to a trace
type Writer struct {
	w       *bufio.Writer
	started bool
	count   int
}

// NewWriter creates a trace writer. The magic is written with the first
// record.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends one descriptor
func (tw *Writer) Write(d encoder.FrameDescriptor) error {
	if !tw.started {
		if _, err := tw.w.Write(Magic); err != nil {
			return err
		}
		tw.started = true
	}
	msg := Marshal(d)
	buf := protowire.AppendBytes(nil, msg)
	if _, err := tw.w.Write(buf); err != nil {
		return err
	}
	tw.count++
	return nil
}

// Count returns the number of records written
func (tw *Writer) Count() int {
	return tw.count
}

// Flush writes buffered records to the underlying writer
func (tw *Writer) Flush() error {
	return tw.w.Flush()
}

// Reader iterates over the records of a trace
type Reader struct {
	r     *bufio.Reader
	magic bool
}

// NewReader creates a trace reader
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next descriptor, or io.EOF at the end of the trace
func (tr *Reader) Next() (encoder.FrameDescriptor, error) {
	if !tr.magic {
		hdr := make([]byte, len(Magic))
		if _, err := io.ReadFull(tr.r, hdr); err != nil {
			if errors.Is(err, io.EOF) {
				return encoder.FrameDescriptor{}, io.EOF
			}
			return encoder.FrameDescriptor{}, corrupt("header", err)
		}
		if !bytes.Equal(hdr, Magic) {
			return encoder.FrameDescriptor{}, driver.NewError(driver.StatusCorrupt, "not a descriptor trace")
		}
		tr.magic = true
	}

	size, err := readUvarint(tr.r)
	if err != nil {
		return encoder.FrameDescriptor{}, err
	}
	if size > maxRecordSize {
		return encoder.FrameDescriptor{}, driver.NewError(driver.StatusCorrupt, fmt.Sprintf("trace record of %d bytes", size))
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(tr.r, msg); err != nil {
		return encoder.FrameDescriptor{}, corrupt("record", err)
	}
	return Unmarshal(msg)
}

// ReadAll returns every remaining descriptor
func (tr *Reader) ReadAll() ([]encoder.FrameDescriptor, error) {
	var out []encoder.FrameDescriptor
	for {
		d, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}

// readUvarint reads a record length prefix. A clean EOF before the first
// byte ends the trace.
func readUvarint(r *bufio.Reader) (uint64, error) {
	var buf []byte
	for i := 0; i < binary.MaxVarintLen64; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && i == 0 {
				return 0, io.EOF
			}
			return 0, corrupt("length", io.ErrUnexpectedEOF)
		}
		buf = append(buf, c)
		if c < 0x80 {
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return 0, corrupt("length", protowire.ParseError(n))
			}
			return v, nil
		}
	}
	return 0, driver.NewError(driver.StatusCorrupt, "trace length overflows")
}
