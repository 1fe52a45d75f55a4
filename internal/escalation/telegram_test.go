package escalation

import "testing"

func TestParseEscalationCallback(t *testing.T) {
	cases := []struct {
		data       string
		wantEsc    string
		wantAction string
		wantErr    bool
	}{
		{"esc:abc123:approve", "abc123", "approve", false},
		{"esc:abc123:reject", "abc123", "reject", false},
		{"not-esc:abc123:approve", "", "", true},
		{"esc:abc123", "", "", true},
		{"esc::approve", "", "", true},
		{"esc:abc123:", "", "", true},
	}

	for _, tc := range cases {
		esc, action, err := parseEscalationCallback(tc.data)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseEscalationCallback(%q): expected error, got none", tc.data)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseEscalationCallback(%q): unexpected error: %v", tc.data, err)
			continue
		}
		if esc != tc.wantEsc || action != tc.wantAction {
			t.Errorf("parseEscalationCallback(%q) = (%q, %q), want (%q, %q)", tc.data, esc, action, tc.wantEsc, tc.wantAction)
		}
	}
}
