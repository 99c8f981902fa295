package sqlparse

import "testing"

// Expected codes match MySQL's SOUNDEX() output for the short (4-char) form.
func TestSoundex(t *testing.T) {
	tests := []struct {
		word string
		want string
	}{
		{"Robert", "R163"},
		{"Rupert", "R163"},
		{"Tymczak", "T522"},
		{"Pfister", "P236"},
		{"Honeyman", "H555"},
		{"Smith", "S530"},
		{"Smythe", "S530"},
		{"Gauss", "G200"},
		{"Ghosh", "G200"},
		{"Knuth", "K530"},
		{"Kant", "K530"},
		{"Lloyd", "L300"},
		{"Ladd", "L300"},
		{"a", "A000"},
		{"", ""},
		{"12345", ""},
		{"O'Brien", "O165"},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			if got := Soundex(tt.word); got != tt.want {
				t.Errorf("Soundex(%q) = %q, want %q", tt.word, got, tt.want)
			}
		})
	}
}

func TestLikeToRegex(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"a%", "^a.*$"},
		{"a_b", "^a.b$"},
		{`\%`, "^%$"},
		{`\_`, "^_$"},
		{"a.b", `^a\.b$`},
		{"(x)", `^\(x\)$`},
		{"a+b", `^a\+b$`},
		{"", "^$"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := LikeToRegex(tt.pattern); got != tt.want {
				t.Errorf("LikeToRegex(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestTautologyPattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"%", true},
		{"%%", true},
		{"", false},
		{"%a%", false},
		{"a", false},
	}
	for _, tt := range tests {
		if got := tautologyPattern(tt.pattern); got != tt.want {
			t.Errorf("tautologyPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}
