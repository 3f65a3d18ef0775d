package ssh

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "plain"},
		{"/usr/bin/env", "/usr/bin/env"},
		{"has space", "'has space'"},
		{"semi;colon", "'semi;colon'"},
		{"dollar$var", "'dollar$var'"},
		{"back`tick", "'back`tick'"},
		{`double"quote`, `'double"quote'`},
		{"glob*", "'glob*'"},
		{"a&&b", "'a&&b'"},
		{"it's", `'it'"'"'s'`},
	}
	for _, tt := range tests {
		if got := quote(tt.in); got != tt.want {
			t.Errorf("quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
