package normalize

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"1-ABC-234", "1-ABC-234", true},
		{"  1-ABC-234\n", "1-ABC-234", true},
		{"1-A.B C-2 3 4", "1-ABC-234", true},
		{"|1-XYZ-999|", "1-XYZ-999", true},
		{"1*ABC*234", "", false},
		{"1ABC234", "", false},
		{"1-abc-234", "", false},
		{"12-ABC-234", "", false},
		{"1-ABC-2345", "", false},
		{"", "", false},
		{"\n\f", "", false},
		// B in a digit slot reads as 8.
		{"B-ACD-234", "8-ACD-234", true},
		{"1-ACD-B3B", "1-ACD-838", true},
		// Digits in the letter block are never turned into letters.
		{"1-A8C-234", "", false},
		// Full-width digits and accented letters fold to ASCII.
		{"１-ÀBC-２３４", "1-ABC-234", true},
		{"1–ABC–234", "", false},
	}

	for _, tt := range tests {
		got, ok := Normalize(tt.raw)
		if ok != tt.wantOK {
			t.Errorf("Normalize(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	inputs := []string{"1-ABC-234", "garbage", "B-XYZ-B00", "１-ÀBC-２３４"}
	for _, in := range inputs {
		first, ok1 := Normalize(in)
		for i := 0; i < 10; i++ {
			got, ok := Normalize(in)
			if got != first || ok != ok1 {
				t.Fatalf("Normalize(%q) not deterministic: %q/%v then %q/%v", in, first, ok1, got, ok)
			}
		}
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"1*ABC*234", "1ABC234"},
		{"a-b_c", "a-bc"},
		{"B-ABC-B00", "B-ABC-B00"},
		{"Ｂ", "B"},
	}
	for _, tt := range tests {
		if got := Clean(tt.raw); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCorrectLeavesOtherShapesAlone(t *testing.T) {
	for _, s := range []string{"BBB", "B-B", "1-ABC-23"} {
		if got := correct(s); got != s {
			t.Errorf("correct(%q) = %q, want unchanged", s, got)
		}
	}
}
