package notifier

import "testing"

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "one whole token",
			raw:  "1000000000000000000",
			want: "1",
		},
		{
			name: "half a token",
			raw:  "500000000000000000",
			want: "0.5",
		},
		{
			name: "rounds to four places",
			raw:  "123456789000000000",
			want: "0.1235",
		},
		{
			name: "zero",
			raw:  "0",
			want: "0",
		},
		{
			name: "empty string",
			raw:  "",
			want: "0",
		},
		{
			name: "unparseable passes through",
			raw:  "not-a-number",
			want: "not-a-number",
		},
		{
			name: "large balance",
			raw:  "2500000000000000000000",
			want: "2500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatUnits(tt.raw); got != tt.want {
				t.Errorf("FormatUnits(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0xABCdef0123", "0xabcdef0123"},
		{"  0xAA  ", "0xaa"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
