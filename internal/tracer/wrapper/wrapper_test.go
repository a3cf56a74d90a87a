package wrapper

import "testing"

func TestWrapPrependsPrelude(t *testing.T) {
	wrapped, lines := Wrap("x = 1")
	if lines != PreludeLines {
		t.Errorf("preludeLines = %d, want %d", lines, PreludeLines)
	}
	if wrapped != prelude+"x = 1" {
		t.Errorf("Wrap did not prepend the prelude verbatim: %q", wrapped)
	}
}

func TestWrapTrimsTrailingWhitespace(t *testing.T) {
	wrapped, _ := Wrap("x = 1\n\n  \t\n")
	if wrapped != prelude+"x = 1" {
		t.Errorf("Wrap did not trim trailing whitespace: %q", wrapped)
	}
}

func TestToUserLine(t *testing.T) {
	tests := []struct {
		wrappedLine int
		want        int
	}{
		{PreludeLines + 1, 1},
		{PreludeLines + 5, 5},
		{PreludeLines, 0},
		{1, 1 - PreludeLines},
	}
	for _, tt := range tests {
		if got := ToUserLine(tt.wrappedLine); got != tt.want {
			t.Errorf("ToUserLine(%d) = %d, want %d", tt.wrappedLine, got, tt.want)
		}
	}
}

func TestIsUserChunk(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"@" + ChunkName, true},
		{ChunkName, true},
		{"@somelib.lua", false},
		{"=[C]", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsUserChunk(tt.source); got != tt.want {
			t.Errorf("IsUserChunk(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}
