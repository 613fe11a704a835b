//go:build benchmark

package integration

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/encoder"
	"github.com/emergingrobotics/go-solo6010/pkg/sim"
	"github.com/emergingrobotics/go-solo6010/pkg/stream"
	"github.com/emergingrobotics/go-solo6010/pkg/trace"
	"github.com/emergingrobotics/go-solo6010/testutil"
)

// BenchmarkP2MRead measures device-to-host transfers through the engine
func BenchmarkP2MRead(b *testing.B) {
	_, dev := testutil.SimulatedDevice(b, sim.Options{Channels: 4})
	buf := make([]byte, 64*1024)
	ctx := context.Background()

	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := dev.Engine().Transfer(ctx, i%driver.NrP2M, driver.DmaFromDevice, buf, dev.Layout().MPEGAddr, uint32(len(buf)))
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFrameDelivery measures encoder interrupt to dequeued buffer
func BenchmarkFrameDelivery(b *testing.B) {
	simDev, dev := testutil.SimulatedDevice(b, sim.Options{Channels: 4})
	rd, err := dev.OpenReader(0, stream.FormatMPEG4)
	if err != nil {
		b.Fatal(err)
	}
	defer rd.Close()
	for i := 0; i < driver.MinVideoBuffers; i++ {
		buf, _ := stream.WrapBuffer(make([]byte, 64*1024))
		rd.QueueBuffer(buf)
	}
	if err := rd.Start(); err != nil {
		b.Fatal(err)
	}

	frame := sim.Frame{Channel: 0, Vop: 1, Payload: testutil.VOP(8*1024, 1), Width: 352, Height: 240}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b.SetBytes(int64(len(frame.Payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := simDev.EmitFrame(frame); err != nil {
			b.Fatal(err)
		}
		buf, err := rd.Dequeue(ctx, false)
		if err != nil {
			b.Fatal(err)
		}
		rd.QueueBuffer(buf)
	}
}

// BenchmarkDescriptorRing measures publish plus one cursor read
func BenchmarkDescriptorRing(b *testing.B) {
	ring := encoder.NewDescriptorRing()
	cur := ring.NewCursor(3)
	d := encoder.FrameDescriptor{Channel: 3, MPEGSize: 4096}

	for i := 0; i < b.N; i++ {
		ring.Publish(d)
		cur.Next()
	}
}

// BenchmarkTraceWrite measures descriptor trace encoding
func BenchmarkTraceWrite(b *testing.B) {
	var out bytes.Buffer
	w := trace.NewWriter(&out)
	d := encoder.FrameDescriptor{Channel: 7, Vop: encoder.VopP, MPEGOffset: 0x4000, MPEGSize: 4096, Timestamp: time.Now()}

	for i := 0; i < b.N; i++ {
		d.Seq = uint64(i)
		if err := w.Write(d); err != nil {
			b.Fatal(err)
		}
	}
	w.Flush()
}
