package link

import (
	"errors"
	"testing"
)

func TestBranchDisplacementRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		disp int32
	}{
		{"forward 0x1000", 0x1000},
		{"backward 8", -8},
		{"zero", 0},
		{"max", 1<<25 - 4},
		{"min", -(1 << 25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, err := putBranchDisplacement(0xeb000000, tt.disp)
			if err != nil {
				t.Fatalf("putBranchDisplacement() error = %v", err)
			}
			if ins>>24 != 0xeb {
				t.Errorf("putBranchDisplacement() clobbered opcode bits: %#08x", ins)
			}
			if got := branchDisplacement(ins); got != tt.disp {
				t.Errorf("branchDisplacement() = %#x, want %#x", got, tt.disp)
			}
		})
	}
}

func TestPatchBranch24(t *testing.T) {
	tests := []struct {
		name    string
		ins     uint32
		value   uint64
		slide   uint64
		want    uint32
		wantErr error
	}{
		{
			name:  "BL to ARM target",
			ins:   0xeb000000,
			value: 0x4000,
			want:  0xeb001000,
		},
		{
			name:  "slide only leaves displacement",
			ins:   0xeb000010,
			value: 0x1000,
			slide: 0x1000,
			want:  0xeb000010,
		},
		{
			name:  "BL to Thumb target becomes BLX",
			ins:   0xeb000000,
			value: 0x1001,
			want:  0xfa000400,
		},
		{
			name:  "BLX halfword bit",
			ins:   0xeb000000,
			value: 0x1003,
			want:  0xfb000400,
		},
		{
			name:  "BLX to ARM target becomes BL",
			ins:   0xfa000000,
			value: 0x1000,
			want:  0xeb000400,
		},
		{
			name:    "out of range",
			ins:     0xeb000000,
			value:   0x2000000,
			wantErr: ErrRange,
		},
		{
			name:    "negative out of range",
			ins:     0xeb000000,
			value:   uint64(0x100000000 - 0x2000004),
			wantErr: ErrRange,
		},
		{
			name:    "misaligned ARM target",
			ins:     0xeb000000,
			value:   0x1002,
			wantErr: ErrRange,
		},
		{
			name:    "conditional BL to Thumb",
			ins:     0x0b000000,
			value:   0x1001,
			wantErr: ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := patchBranch24(tt.ins, tt.value, tt.slide)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("patchBranch24() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("patchBranch24() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("patchBranch24() = %#08x, want %#08x", got, tt.want)
			}
		})
	}
}
