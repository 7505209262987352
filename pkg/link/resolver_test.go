package link

import (
	"errors"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/blacktop/relink/pkg/macho"
)

func TestResolverByName(t *testing.T) {
	logger := log.Log.(*log.Logger)
	prev := logger.Handler
	t.Cleanup(func() { log.SetHandler(prev) })

	res := &resolver{
		target: newTarget(t),
		lookup: func(*macho.Image, string) uint64 { return 0 },
	}
	tests := []struct {
		name    string
		sym     string
		weak    bool
		soft    bool
		want    uint64
		wantErr error
		wantLog string
	}{
		{name: "weak", sym: "_gone", weak: true, wantLog: "couldn't find weak symbol _gone"},
		{name: "soft", sym: "_gone", soft: true, wantLog: "couldn't find symbol _gone"},
		{name: "weak and soft", sym: "_gone", weak: true, soft: true, wantLog: "couldn't find weak symbol _gone"},
		{name: "hard", sym: "_gone", wantErr: ErrUnresolved},
		{name: "stub binder", sym: StubBinder, want: StubBinderSentinel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := memory.New()
			log.SetHandler(h)

			got, err := res.byName(tt.sym, tt.weak, tt.soft)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("byName() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("byName() = %#x, want %#x", got, tt.want)
			}
			if tt.wantLog == "" {
				if len(h.Entries) != 0 {
					t.Errorf("byName() logged %q", h.Entries[0].Message)
				}
				return
			}
			if len(h.Entries) != 1 || h.Entries[0].Message != tt.wantLog {
				t.Errorf("byName() logged %v, want %q", h.Entries, tt.wantLog)
			}
		})
	}
}
