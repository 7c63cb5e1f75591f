package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Format describes the PCM stream fed to an Encoder.
type Format struct {
	SampleRate int
	Channels   int
}

// Encoder turns mixed PCM into chunks and joins chunks into one payload.
type Encoder interface {
	Open(f Format) error
	EncodeChunk(samples []int16) ([]byte, error)
	Assemble(chunks [][]byte) ([]byte, error)
}

// WAVEncoder emits raw PCM16LE chunks and assembles them under a RIFF/WAVE header.
type WAVEncoder struct {
	format Format
	open   bool
}

func (e *WAVEncoder) Open(f Format) error {
	if f.SampleRate <= 0 || f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupportedFormat, f.SampleRate, f.Channels)
	}
	e.format = f
	e.open = true
	return nil
}

func (e *WAVEncoder) EncodeChunk(samples []int16) ([]byte, error) {
	if !e.open {
		return nil, fmt.Errorf("media: encoder not open")
	}
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out, nil
}

func (e *WAVEncoder) Assemble(chunks [][]byte) ([]byte, error) {
	if !e.open {
		return nil, fmt.Errorf("media: encoder not open")
	}
	dataLen := 0
	for _, c := range chunks {
		dataLen += len(c)
	}

	const bitsPerSample = 16
	blockAlign := e.format.Channels * bitsPerSample / 8
	byteRate := e.format.SampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + dataLen)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(e.format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(e.format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}
