package link

import "testing"

func TestParseRelocMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RelocMode
		wantErr bool
	}{
		{"local", LocalOnly, false},
		{"extern", ExternOnly, false},
		{"userland", Userland, false},
		{"both", Both, false},
		{"BOTH", Both, false},
		{"kernel", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRelocMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRelocMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseRelocMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelocModeDispatch(t *testing.T) {
	tests := []struct {
		mode   RelocMode
		local  bool
		extern bool
		slides bool
		soft   bool
	}{
		{LocalOnly, true, false, true, false},
		{ExternOnly, false, true, false, false},
		{Userland, false, true, true, true},
		{Both, true, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			if got := tt.mode.local(); got != tt.local {
				t.Errorf("local() = %v, want %v", got, tt.local)
			}
			if got := tt.mode.extern(); got != tt.extern {
				t.Errorf("extern() = %v, want %v", got, tt.extern)
			}
			if got := tt.mode.slides(); got != tt.slides {
				t.Errorf("slides() = %v, want %v", got, tt.slides)
			}
			if got := tt.mode.soft(); got != tt.soft {
				t.Errorf("soft() = %v, want %v", got, tt.soft)
			}
		})
	}
	if s := RelocMode(9).String(); s != "RelocMode(9)" {
		t.Errorf("String() = %q", s)
	}
}
