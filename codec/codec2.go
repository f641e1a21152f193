package codec

/*
#cgo LDFLAGS: -lcodec2
#include <codec2/codec2.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// codec2Codec binds libcodec2 behind NarrowbandCodec, the same way the
// speech engine binds libopus. One engine instance is valid for exactly
// one mode; the adapter recreates it on a mode switch.
type codec2Codec struct {
	eng *C.struct_CODEC2
	spf int
	bpf int
}

// newCodec2Codec is the default NarrowbandFactory. libMode follows the
// codec2 mode enumeration (0=3200 ... 8=700C); libcodec2 rejects values
// outside it.
func newCodec2Codec(libMode int) (NarrowbandCodec, error) {
	eng := C.codec2_create(C.int(libMode))
	if eng == nil {
		return nil, fmt.Errorf("codec2 library mode %d not supported", libMode)
	}
	return &codec2Codec{
		eng: eng,
		spf: int(C.codec2_samples_per_frame(eng)),
		bpf: (int(C.codec2_bits_per_frame(eng)) + 7) / 8,
	}, nil
}

func (c *codec2Codec) SamplesPerFrame() int {
	return c.spf
}

func (c *codec2Codec) BytesPerFrame() int {
	return c.bpf
}

func (c *codec2Codec) Encode(dst []byte, pcm []int16) error {
	if c.eng == nil {
		return fmt.Errorf("codec2 engine is closed")
	}
	if len(pcm) != c.spf {
		return fmt.Errorf("codec2 encode needs exactly %d samples, got %d", c.spf, len(pcm))
	}
	if len(dst) < c.bpf {
		return ErrShortBuffer
	}
	C.codec2_encode(c.eng,
		(*C.uchar)(unsafe.Pointer(&dst[0])),
		(*C.short)(unsafe.Pointer(&pcm[0])))
	return nil
}

func (c *codec2Codec) Decode(dst []int16, data []byte) error {
	if c.eng == nil {
		return fmt.Errorf("codec2 engine is closed")
	}
	if len(data) != c.bpf {
		return fmt.Errorf("codec2 decode needs exactly %d bytes, got %d", c.bpf, len(data))
	}
	if len(dst) < c.spf {
		return ErrShortBuffer
	}
	C.codec2_decode(c.eng,
		(*C.short)(unsafe.Pointer(&dst[0])),
		(*C.uchar)(unsafe.Pointer(&data[0])))
	return nil
}

func (c *codec2Codec) Close() error {
	if c.eng != nil {
		C.codec2_destroy(c.eng)
		c.eng = nil
	}
	return nil
}
