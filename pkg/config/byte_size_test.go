package config

import (
	"testing"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"256", 256, false},
		{"256b", 256, false},
		{"1kb", 1000, false},
		{"1KiB", 1024, false},
		{"1k", 1000, false},
		{"16MiB", 16 * MiB, false},
		{"1.5mb", 1500000, false},
		{"2GiB", 2 * GiB, false},
		{"256 MiB", 256 * MiB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1tb", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseByteSize(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseByteSize(%q): expected error, got %d", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseByteSize(%q): unexpected error %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseByteSize(%q): expected %d, got %d", tt.input, tt.expected, got)
		}
	}
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		size     ByteSize
		expected string
	}{
		{256, "256"},
		{1000, "1KB"},
		{1024, "1KiB"},
		{16 * MiB, "16MiB"},
		{2 * GiB, "2GiB"},
	}

	for _, tt := range tests {
		if got := tt.size.String(); got != tt.expected {
			t.Errorf("ByteSize(%d).String(): expected %q, got %q", tt.size.Int64(), tt.expected, got)
		}
	}
}

func TestByteSize_JSONRoundTrip(t *testing.T) {
	cfg, err := ParseConfig(`{"max_message_bytes": "256MiB"}`)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.MaxMessageBytes != 256*MiB {
		t.Fatalf("expected %d, got %d", 256*MiB, cfg.MaxMessageBytes)
	}

	cfg, err = ParseConfig(`{"max_message_bytes": 1048576}`)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.MaxMessageBytes != MiB {
		t.Fatalf("expected %d, got %d", MiB, cfg.MaxMessageBytes)
	}
}
