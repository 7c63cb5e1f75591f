package media

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestDeviceMicrophone_NoPathIsUnavailable(t *testing.T) {
	_, err := DeviceMicrophone{}.Open(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestDeviceMicrophone_MissingDeviceIsUnavailable(t *testing.T) {
	_, err := DeviceMicrophone{Path: filepath.Join(t.TempDir(), "nope")}.Open(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestDeviceMicrophone_ReadsPCM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.pcm")
	raw := make([]byte, 6)
	binary.LittleEndian.PutUint16(raw[0:], uint16(7))
	binary.LittleEndian.PutUint16(raw[2:], uint16(0xFFFF)) // -1
	binary.LittleEndian.PutUint16(raw[4:], uint16(3))
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tr, err := DeviceMicrophone{Path: path}.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.(io.Closer).Close()

	if tr.Kind() != TrackKindAudio || tr.ID() != "local-mic" {
		t.Fatalf("unexpected track identity %s/%s", tr.ID(), tr.Kind())
	}

	buf := make([]int16, 2)
	n, err := tr.ReadSamples(buf)
	if err != nil || n != 2 || buf[0] != 7 || buf[1] != -1 {
		t.Fatalf("first read: n=%d err=%v buf=%v", n, err, buf)
	}
	n, err = tr.ReadSamples(buf)
	if n != 1 || buf[0] != 3 || !errors.Is(err, io.EOF) {
		t.Fatalf("second read: n=%d err=%v buf=%v", n, err, buf)
	}
}
