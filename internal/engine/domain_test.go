package engine

import "testing"

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"YouTube.com", "youtube.com"},
		{"www.youtube.com", "youtube.com"},
		{"m.youtube.com", "youtube.com"},
		{"youtube.com.", "youtube.com"},
		{"  reddit.com ", "reddit.com"},
		{"music.youtube.com", "music.youtube.com"},
		{"mail.google.com", "mail.google.com"}, // "m." strip must not eat "mail."
	}
	for _, tt := range tests {
		if got := NormalizeDomain(tt.in); got != tt.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidDomain(t *testing.T) {
	valid := []string{"youtube.com", "news.ycombinator.com", "a-b.co"}
	for _, d := range valid {
		if !IsValidDomain(d) {
			t.Errorf("IsValidDomain(%q) = false, want true", d)
		}
	}

	invalid := []string{"", "localhost", "youtube", "-bad.com", "spaces in.com"}
	for _, d := range invalid {
		if IsValidDomain(d) {
			t.Errorf("IsValidDomain(%q) = true, want false", d)
		}
	}
}

func TestIsHTTPURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://youtube.com/watch", true},
		{"http://example.com", true},
		{"chrome://settings", false},
		{"about:blank", false},
		{"file:///tmp/page.html", false},
	}
	for _, tt := range tests {
		if got := IsHTTPURL(tt.url); got != tt.want {
			t.Errorf("IsHTTPURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=abc", "youtube.com"},
		{"http://Example.COM:8080/path", "example.com"},
		{"https://m.reddit.com/r/golang", "reddit.com"},
	}
	for _, tt := range tests {
		got, err := ExtractDomain(tt.url)
		if err != nil {
			t.Errorf("ExtractDomain(%q): %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}

	for _, bad := range []string{"chrome://settings", "https://", "not a url at all\x7f"} {
		if _, err := ExtractDomain(bad); err == nil {
			t.Errorf("ExtractDomain(%q) should fail", bad)
		}
	}
}

func TestMatchesDomain(t *testing.T) {
	tests := []struct {
		host   string
		domain string
		want   bool
	}{
		{"youtube.com", "youtube.com", true},
		{"music.youtube.com", "youtube.com", true},
		{"notyoutube.com", "youtube.com", false},
		{"youtube.com.evil.net", "youtube.com", false},
	}
	for _, tt := range tests {
		if got := MatchesDomain(tt.host, tt.domain); got != tt.want {
			t.Errorf("MatchesDomain(%q, %q) = %v, want %v", tt.host, tt.domain, got, tt.want)
		}
	}
}
