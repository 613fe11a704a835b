package driver

// Device limits
const (
	NrP2M         = 4  // P2M DMA channels
	MaxChannels   = 16 // encoder channels on the largest board
	EncQueueSize  = 16 // hardware encoder index ring (MP4_QS)
	SoftRingSize  = 64 // software frame descriptor ring
	VopHeaderSize = 64 // hardware header in front of every MPEG-4 frame
	DefaultQP     = 3
	MaxInterval   = 15
	MaxGOP        = 255
	RingAddrMask  = 0x00ffffff
	VendorID      = 0x9413
	DeviceID6010  = 0x6010
	DeviceName    = "solo6010"
)

// P2M channel assignment for encoder ring reads
const (
	P2MChanMPEG = 0
	P2MChanJPEG = 1
)

// Frame buffer sizing for encoder readers
const (
	MinVideoBuffers = 4
	FrameBufSize    = 512 * 1024
)

// Interrupt status/enable
const (
	RegIrqStat   = 0x0010
	RegIrqEnable = 0x0014
)

// IRQ bits in RegIrqStat / RegIrqEnable
const (
	IrqEncoder   uint32 = 1 << 0
	IrqDecoder   uint32 = 1 << 1
	IrqG723      uint32 = 1 << 3
	IrqIIC       uint32 = 1 << 6
	IrqPCIErr    uint32 = 1 << 10
	IrqMotion    uint32 = 1 << 13
	IrqVideoIn   uint32 = 1 << 14
	IrqVideoLoss uint32 = 1 << 15
	IrqGPIO      uint32 = 1 << 16
)

// IrqP2M returns the completion interrupt bit for P2M channel n
func IrqP2M(n int) uint32 {
	return 1 << uint(n+17)
}

// PCI error reporting
const (
	RegPCIErr uint32 = 0x0070

	PCIErrFatal   uint32 = 1 << 0
	PCIErrParity  uint32 = 1 << 1
	PCIErrTarget  uint32 = 1 << 2
	PCIErrTimeout uint32 = 1 << 3
	PCIErrP2M     uint32 = 1 << 4
	PCIErrATA     uint32 = 1 << 5
	PCIErrP2MDesc uint32 = 1 << 6
)

// P2M channel register block, 0x20 bytes per channel
func RegP2MConfig(n int) uint32  { return 0x0080 + uint32(n)*0x20 }
func RegP2MDesAdr(n int) uint32  { return 0x0084 + uint32(n)*0x20 }
func RegP2MDescID(n int) uint32  { return 0x0088 + uint32(n)*0x20 }
func RegP2MStatus(n int) uint32  { return 0x008c + uint32(n)*0x20 }
func RegP2MControl(n int) uint32 { return 0x0090 + uint32(n)*0x20 }
func RegP2MExtCfg(n int) uint32  { return 0x0094 + uint32(n)*0x20 }
func RegP2MTarAdr(n int) uint32  { return 0x0098 + uint32(n)*0x20 }
func RegP2MExtAdr(n int) uint32  { return 0x009c + uint32(n)*0x20 }

// P2M config bits
const (
	P2MDescMode      uint32 = 1 << 0
	P2MDescIntrOpt   uint32 = 1 << 1
	P2MPCIMasterMode uint32 = 1 << 2
	P2MUVSwap        uint32 = 1 << 3
	P2MCSC16Bit565   uint32 = 1 << 4
	P2MCSCByteOrder  uint32 = 1 << 5
)

// P2MDMAInterval encodes the inter-burst interval of a P2M channel
func P2MDMAInterval(n uint32) uint32 { return n << 6 }

// P2M control bits
const (
	P2MTransOn      uint32 = 1 << 0
	P2MWrite        uint32 = 1 << 1
	P2MInterruptReq uint32 = 1 << 4
	P2MCSCOn        uint32 = 1 << 5
	P2MEndianSwap   uint32 = 1 << 6
)

// P2M burst sizes
const (
	P2MBurst64  uint32 = 0
	P2MBurst128 uint32 = 1
	P2MBurst256 uint32 = 2
	P2MBurst512 uint32 = 3
)

// P2MBurstSize encodes a burst size selector into the control word
func P2MBurstSize(n uint32) uint32 { return n << 7 }

// P2MCopySize encodes the transfer length, in 32-bit words, into EXT_CFG
func P2MCopySize(words uint32) uint32 { return words & 0xfffff }

// Capture and encoder registers
func RegCapChScale(ch int) uint32    { return 0x0440 + uint32(ch)*4 }
func RegCapChCompEnaE(ch int) uint32 { return 0x0480 + uint32(ch)*4 }
func RegCapChIntv(ch int) uint32     { return 0x04c0 + uint32(ch)*4 }
func RegCapChIntvE(ch int) uint32    { return 0x0500 + uint32(ch)*4 }
func RegVEState(n int) uint32        { return 0x0640 + uint32(n)*4 }
func RegVEChIntl(ch int) uint32      { return 0x0700 + uint32(ch)*4 }
func RegVEChQP(ch int) uint32        { return 0x0780 + uint32(ch)*4 }
func RegVEChQPE(ch int) uint32       { return 0x07c0 + uint32(ch)*4 }
func RegVEChGOP(ch int) uint32       { return 0x0800 + uint32(ch)*4 }
func RegVEChGOPE(ch int) uint32      { return 0x0840 + uint32(ch)*4 }
func RegVEMpeg4Que(n int) uint32     { return 0x0a00 + uint32(n)*8 }
func RegVEJpegQue(n int) uint32      { return 0x0a04 + uint32(n)*8 }

// Encoder status decoding
const (
	VEStateCodeSizeMask uint32 = 0x000fffff // VE_STATE(0)
	VEStateLastQueue    uint32 = 0x0000000f // VE_STATE(11)
)

// Motion detection and timer
const (
	RegVIMotStatus uint32 = 0x02a4
	RegVIMotClear  uint32 = 0x02a8
	RegTimerSec    uint32 = 0x0bec
	RegTimerUsec   uint32 = 0x0be8
)

// Chip identification
const (
	RegChipOption uint32 = 0x0004
	RegEEPROMCtrl uint32 = 0x0060
)

// Encoder scale modes written to CAP_CH_SCALE
const (
	EncModeCIF uint32 = 2
	EncModeD1  uint32 = 9 // bit 3 marks interlaced capture
)

// EncModeInterlaced is set in every mode that captures both fields
const EncModeInterlaced uint32 = 0x08

// VideoStandard selects the analog input timing
type VideoStandard uint32

const (
	StandardNTSC VideoStandard = 0
	StandardPAL  VideoStandard = 1
)

// String returns the standard's name
func (s VideoStandard) String() string {
	if s == StandardPAL {
		return "PAL"
	}
	return "NTSC"
}

// Geometry returns the per-field active size and nominal frame rate
func (s VideoStandard) Geometry() (hsize, vsize, fps uint32) {
	if s == StandardPAL {
		return 704, 288, 25
	}
	return 704, 240, 30
}

// ExtLayout describes where the encoder rings live in device external memory
type ExtLayout struct {
	MPEGAddr uint32
	MPEGSize uint32
	JPEGAddr uint32
	JPEGSize uint32
}

// DefaultExtLayout returns the external memory layout for a board with
// the given number of channels
func DefaultExtLayout(channels int) ExtLayout {
	mpegSize := uint32(0x00080000) * uint32(channels)
	jpegSize := uint32(0x00020000) * uint32(channels)
	base := uint32(0x01000000)
	return ExtLayout{
		MPEGAddr: base,
		MPEGSize: mpegSize,
		JPEGAddr: base + mpegSize,
		JPEGSize: jpegSize,
	}
}

// ExtMemorySize returns the external memory needed to back the layout
func (l ExtLayout) ExtMemorySize() uint32 {
	return l.JPEGAddr + l.JPEGSize
}
