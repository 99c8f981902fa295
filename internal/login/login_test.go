package login

import "testing"

func TestEmptyFilterPermitsAll(t *testing.T) {
	f := NewStatic(nil)
	if !f.Empty() {
		t.Fatal("filter should be empty")
	}
	if !f.Allowed("anyone", "198.51.100.7") {
		t.Error("an empty filter must permit every login")
	}
}

func TestHostPatternMatching(t *testing.T) {
	f := NewStatic(map[string][]string{
		"webapp": {"10.0.0.%", "app-%.internal"},
		"dba":    {"localhost"},
	})

	tests := []struct {
		user string
		host string
		want bool
	}{
		{"webapp", "10.0.0.15", true},
		{"webapp", "10.0.1.15", false},
		{"webapp", "app-3.internal", true},
		{"webapp", "db-3.internal", false},
		{"dba", "localhost", true},
		{"dba", "10.0.0.15", false},
		{"unknown", "localhost", false},
	}
	for _, tt := range tests {
		if got := f.Allowed(tt.user, tt.host); got != tt.want {
			t.Errorf("Allowed(%q, %q) = %v, want %v", tt.user, tt.host, got, tt.want)
		}
	}
}

func TestLocalhostAlias(t *testing.T) {
	f := NewStatic(nil)
	f.add("root", "localhost")
	f.add("root", "127.0.0.1")

	if !f.Allowed("root", "127.0.0.1") {
		t.Error("127.0.0.1 should be admitted alongside localhost")
	}
}

func TestDotsAreLiteral(t *testing.T) {
	// The LIKE-to-regex conversion must escape dots: 10.0.0.1 shall not
	// admit 10a0b0c1.
	f := NewStatic(map[string][]string{"u": {"10.0.0.1"}})
	if f.Allowed("u", "10a0b0c1") {
		t.Error("dots in host patterns must not act as wildcards")
	}
	if !f.Allowed("u", "10.0.0.1") {
		t.Error("exact host should match")
	}
}

func TestLoadWithoutCredentials(t *testing.T) {
	f := Load(Config{})
	if !f.Empty() {
		t.Error("no credentials should yield an empty, permissive filter")
	}
}
