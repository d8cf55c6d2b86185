package validate

import "testing"

func TestSanitizePrefix(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "daily", "daily", false},
		{"nested", "team/daily", "team/daily", false},
		{"empty", "", "", false},
		{"leading slash stripped", "/daily", "daily", false},
		{"trailing slash stripped", "daily/", "daily", false},
		{"dotdot dropped", "../daily", "daily", false},
		{"repeated dotdot dropped", "../../daily", "daily", false},
		{"embedded dotdot dropped", "a/../b", "a/b", false},
		{"overlapping traversal", "....//daily", "..../daily", false},
		{"dot segment dropped", "./daily", "daily", false},
		{"control chars stripped", "dai\x00ly", "daily", false},
		{"only traversal", "../..", "", false},
		{"reserved aws", ".aws", "", true},
		{"reserved aws nested", ".aws/keys", "", true},
		{"reserved credentials", ".credentials", "", true},
		{"reserved case sensitive", ".AWS", ".AWS", false},
		{"space rejected", "my prefix", "", true},
		{"semicolon rejected", "a;b", "", true},
		{"glob rejected", "a*", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePrefix(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizePrefix(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("SanitizePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
