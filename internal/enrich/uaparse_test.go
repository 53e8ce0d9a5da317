package enrich

import "testing"

func TestJoinVersion(t *testing.T) {
	cases := []struct {
		major, minor, patch, want string
	}{
		{"10", "0", "", "10.0"},
		{"10", "", "", "10"},
		{"", "", "", ""},
		{"1", "2", "3", "1.2.3"},
	}
	for _, c := range cases {
		if got := joinVersion(c.major, c.minor, c.patch); got != c.want {
			t.Fatalf("joinVersion(%q,%q,%q) = %q, want %q", c.major, c.minor, c.patch, got, c.want)
		}
	}
}
