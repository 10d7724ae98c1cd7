package protocol

import (
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	p := TypeInfo{Type: TypeMidi2, Version: 0, Extensions: ExtMidi2Jitter}
	b := p.Bytes()
	got, err := Parse(b[:])
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got != p {
		t.Errorf("got %v, want %v", got, p)
	}
}

func TestParseShort(t *testing.T) {
	if _, err := Parse([]byte{1, 0, 0}); err == nil {
		t.Error("expected error for short input")
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name      string
		preferred []TypeInfo
		offered   []TypeInfo
		want      TypeInfo
		ok        bool
	}{
		{"both support midi2", Midi2ThenMidi1, []TypeInfo{Midi1, Midi2}, Midi2, true},
		{"peer midi1 only", Midi2ThenMidi1, []TypeInfo{Midi1}, Midi1, true},
		{"nothing common", []TypeInfo{Midi2}, []TypeInfo{Midi1}, TypeInfo{}, false},
		{"extension mismatch", []TypeInfo{{Type: TypeMidi2, Extensions: ExtMidi2Jitter}}, []TypeInfo{Midi2}, TypeInfo{}, false},
		{"empty offer", Midi2ThenMidi1, nil, TypeInfo{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.preferred, tt.offered)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Select = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAcceptKeepsProposerOrder(t *testing.T) {
	got := Accept(Midi2ThenMidi1, []TypeInfo{Midi1, Midi2})
	if len(got) != 2 || got[0] != Midi2 || got[1] != Midi1 {
		t.Errorf("Accept = %v, want [MIDI2 MIDI1]", got)
	}
	if got := Accept([]TypeInfo{Midi2}, []TypeInfo{Midi1}); len(got) != 0 {
		t.Errorf("Accept = %v, want empty", got)
	}
}

func TestTypeString(t *testing.T) {
	if TypeMidi2.String() != "MIDI2" || TypeMidi1.String() != "MIDI1" {
		t.Error("unexpected type names")
	}
	if Type(9).String() != "UNKNOWN(0x09)" {
		t.Errorf("got %q", Type(9).String())
	}
}
