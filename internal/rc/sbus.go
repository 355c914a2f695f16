package rc

import "math"

// SBUS framing: 25 bytes at 100000 baud 8E2.
//   [0]     header 0x0F
//   [1:23]  16 channels, 11 bits each, little-endian bit packing
//   [23]    flags: bit0 ch17, bit1 ch18, bit2 frame lost, bit3 failsafe
//   [24]    footer 0x00 (SBUS2 receivers cycle 0x04/0x14/0x24/0x34)
const (
	sbusHeader    = 0x0F
	sbusFrameSize = 25
	sbusFlagsIdx  = 23
	sbusFooterIdx = 24

	flagFrameLost = 1 << 2
	flagFailsafe  = 1 << 3

	channelMin    = 172
	channelCenter = 992
	channelMax    = 1811
	switchHigh    = 1500
)

type decodeState int

const (
	waitHeader decodeState = iota
	readFrame
)

// Decoder is a byte-at-a-time SBUS frame decoder. Not safe for concurrent
// use.
type Decoder struct {
	chmap ChannelMap

	state decodeState
	buf   [sbusFrameSize]byte
	n     int

	last Frame

	frames     uint64
	syncErrors uint64
}

func NewDecoder(chmap ChannelMap) *Decoder {
	if !chmap.valid() {
		chmap = DefaultChannelMap()
	}
	return &Decoder{chmap: chmap}
}

// Feed consumes one byte. It returns a frame when b completes one.
//
// A frame whose footer does not match is reported with FrameLost set and the
// previous channel values, since its payload cannot be trusted.
func (d *Decoder) Feed(b byte) (Frame, bool) {
	switch d.state {
	case waitHeader:
		if b == sbusHeader {
			d.buf[0] = b
			d.n = 1
			d.state = readFrame
		}
		return Frame{}, false
	case readFrame:
		d.buf[d.n] = b
		d.n++
		if d.n < sbusFrameSize {
			return Frame{}, false
		}
		d.state = waitHeader
		d.n = 0
		if !validFooter(d.buf[sbusFooterIdx]) {
			d.syncErrors++
			f := d.last
			f.FrameLost = true
			return f, true
		}
		f := decodeFrame(d.buf[:], d.chmap)
		d.frames++
		d.last = f
		return f, true
	}
	d.Reset()
	return Frame{}, false
}

// Reset drops any partial frame and waits for the next header.
func (d *Decoder) Reset() {
	d.state = waitHeader
	d.n = 0
}

// Frames counts well-formed frames.
func (d *Decoder) Frames() uint64 { return d.frames }

// SyncErrors counts frames rejected by footer check.
func (d *Decoder) SyncErrors() uint64 { return d.syncErrors }

func validFooter(b byte) bool {
	return b == 0x00 || b&0x0F == 0x04
}

func decodeFrame(buf []byte, chmap ChannelMap) Frame {
	var f Frame
	f.Channels = unpackChannels(buf[1:sbusFlagsIdx])
	flags := buf[sbusFlagsIdx]
	f.FrameLost = flags&flagFrameLost != 0
	f.Failsafe = flags&flagFailsafe != 0
	chmap.apply(&f)
	return f
}

// unpackChannels extracts 11-bit little-endian packed channel values.
func unpackChannels(payload []byte) [NumChannels]uint16 {
	var out [NumChannels]uint16
	var acc uint32
	var bits uint
	idx := 0
	for n := 0; n < NumChannels; n++ {
		for bits < 11 {
			if idx >= len(payload) {
				return out
			}
			acc |= uint32(payload[idx]) << bits
			idx++
			bits += 8
		}
		out[n] = uint16(acc & 0x07FF)
		acc >>= 11
		bits -= 11
	}
	return out
}

// packChannels is the inverse of unpackChannels.
func packChannels(ch [NumChannels]uint16) [22]byte {
	var out [22]byte
	var acc uint32
	var bits uint
	idx := 0
	for _, v := range ch {
		acc |= uint32(v&0x07FF) << bits
		bits += 11
		for bits >= 8 {
			out[idx] = byte(acc)
			idx++
			acc >>= 8
			bits -= 8
		}
	}
	return out
}

// EncodeFrame builds an SBUS frame for the given channels and flags.
func EncodeFrame(ch [NumChannels]uint16, frameLost, failsafe bool) [sbusFrameSize]byte {
	var out [sbusFrameSize]byte
	out[0] = sbusHeader
	payload := packChannels(ch)
	copy(out[1:sbusFlagsIdx], payload[:])
	if frameLost {
		out[sbusFlagsIdx] |= flagFrameLost
	}
	if failsafe {
		out[sbusFlagsIdx] |= flagFailsafe
	}
	return out
}

// ChannelValue maps a stick position in [-1,1] to a raw SBUS value.
func ChannelValue(stick float64) uint16 {
	if stick < -1 {
		stick = -1
	} else if stick > 1 {
		stick = 1
	}
	if stick < 0 {
		return uint16(math.Round(float64(channelCenter) + stick*float64(channelCenter-channelMin)))
	}
	return uint16(math.Round(float64(channelCenter) + stick*float64(channelMax-channelCenter)))
}

func stick(raw uint16) float64 {
	v := float64(int(raw)-channelCenter) / float64(channelMax-channelCenter)
	if raw < channelCenter {
		v = float64(int(raw)-channelCenter) / float64(channelCenter-channelMin)
	}
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
