package format

import (
	"errors"
	"testing"
)

func TestHeaderEncodeInto(t *testing.T) {
	h := Header{Type: TypeCheckpoint, Version: 1, Flags: 0}
	buf := make([]byte, 8)
	n := h.EncodeInto(buf)

	if n != HeaderSize {
		t.Fatalf("expected %d bytes written, got %d", HeaderSize, n)
	}
	if buf[0] != Signature {
		t.Errorf("expected signature 0x%02x, got 0x%02x", Signature, buf[0])
	}
	if buf[1] != TypeCheckpoint {
		t.Errorf("expected type 0x%02x, got 0x%02x", TypeCheckpoint, buf[1])
	}
	if buf[2] != 1 {
		t.Errorf("expected version 1, got %d", buf[2])
	}
	if buf[3] != 0 {
		t.Errorf("expected flags 0, got %d", buf[3])
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	h := Header{Type: TypeArchive, Version: 2, Flags: FlagCompressed}
	buf := make([]byte, HeaderSize)
	h.EncodeInto(buf)

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip: want %+v got %+v", h, got)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("too small", func(t *testing.T) {
		if _, err := Decode([]byte{Signature, TypeCheckpoint}); !errors.Is(err, ErrHeaderTooSmall) {
			t.Fatalf("expected ErrHeaderTooSmall, got %v", err)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		if _, err := Decode([]byte{'x', TypeCheckpoint, 1, 0}); !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("expected ErrSignatureMismatch, got %v", err)
		}
	})
}

func TestDecodeAndValidate(t *testing.T) {
	buf := make([]byte, HeaderSize)
	Header{Type: TypeCheckpoint, Version: 1}.EncodeInto(buf)

	if _, err := DecodeAndValidate(buf, TypeCheckpoint, 1); err != nil {
		t.Fatalf("valid header rejected: %v", err)
	}
	if _, err := DecodeAndValidate(buf, TypeArchive, 1); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := DecodeAndValidate(buf, TypeCheckpoint, 9); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}
