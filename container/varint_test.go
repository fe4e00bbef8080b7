package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadUvarint(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint64
		next int
	}{
		{"zero", []byte{0x00}, 0, 1},
		{"max one byte", []byte{0x7f}, 127, 1},
		{"two bytes", []byte{0x80, 0x01}, 128, 2},
		{"three hundred", []byte{0xac, 0x02}, 300, 2},
		{"trailing data", []byte{0x05, 0xff, 0xff}, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next, err := readUvarint(tt.data, 0)
			if err != nil {
				t.Fatalf("readUvarint: %v", err)
			}
			if got != tt.want || next != tt.next {
				t.Errorf("readUvarint = (%d, %d), want (%d, %d)", got, next, tt.want, tt.next)
			}
		})
	}
}

func TestReadUvarintErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		pos  int
		want error
	}{
		{"empty", nil, 0, ErrUnexpectedEOF},
		{"past end", []byte{0x00}, 5, ErrUnexpectedEOF},
		{"truncated", []byte{0x80}, 0, ErrUnexpectedEOF},
		{"overflow", bytes.Repeat([]byte{0xff}, 11), 0, ErrBadVarint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readUvarint(tt.data, tt.pos)
			if !errors.Is(err, tt.want) {
				t.Errorf("readUvarint error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSvarintEncoding(t *testing.T) {
	// The sign lives in the lowest bit: +n encodes as 2n, -n as 2n+1.
	tests := []struct {
		name string
		v    int64
		want []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"one", 1, []byte{0x02}},
		{"minus one", -1, []byte{0x03}},
		{"sixty three", 63, []byte{0x7e}},
		{"sixty four", 64, []byte{0x80, 0x01}},
		{"minus 256", -256, []byte{0x81, 0x04}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := appendSvarint(nil, big.NewInt(tt.v))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("appendSvarint(%d) mismatch (-want +got):\n%s", tt.v, diff)
			}
		})
	}
}

func TestSvarintRoundTrip(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	values := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(-1),
		big.NewInt(255),
		big.NewInt(-255),
		big.NewInt(99999),
		big.NewInt(-99999),
		new(big.Int).Lsh(big.NewInt(1), 62),
		huge,
		new(big.Int).Neg(huge),
	}
	for _, v := range values {
		enc := appendSvarint(nil, v)
		got, next, err := readSvarint(enc, 0)
		if err != nil {
			t.Fatalf("readSvarint(%s): %v", v, err)
		}
		if next != len(enc) {
			t.Errorf("readSvarint(%s) consumed %d of %d bytes", v, next, len(enc))
		}
		if got.Cmp(v) != 0 {
			t.Errorf("round trip of %s = %s", v, got)
		}
	}
}

func TestSvarintWideMatchesUvarint(t *testing.T) {
	// Values that fit 64 bits after the sign shift must use the exact
	// same bytes as the plain unsigned encoder.
	v := big.NewInt(987654321)
	want := binary.AppendUvarint(nil, 987654321<<1)
	if diff := cmp.Diff(want, appendSvarint(nil, v)); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSvarintTruncated(t *testing.T) {
	if _, _, err := readSvarint([]byte{0x80, 0x80}, 0); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("readSvarint error = %v, want %v", err, ErrUnexpectedEOF)
	}
}
