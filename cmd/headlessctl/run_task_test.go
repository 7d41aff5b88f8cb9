package main

import "testing"

func TestParseDigits(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"0":     0,
		"42":    42,
		"00007": 7,
	}
	for raw, want := range cases {
		got, err := parseDigits(raw)
		if err != nil {
			t.Fatalf("parseDigits(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Errorf("parseDigits(%q) = %d, want %d", raw, got, want)
		}
	}

	badInputs := []string{"", "-1", "+1", "1.5", "abc", "1a"}
	for _, raw := range badInputs {
		if _, err := parseDigits(raw); err == nil {
			t.Errorf("parseDigits(%q) expected error, got none", raw)
		}
	}
}

func TestParseSeedList(t *testing.T) {
	t.Parallel()

	got, err := parseSeedList("1,2,3")
	if err != nil {
		t.Fatalf("parseSeedList returned error: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("parseSeedList length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseSeedList[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	got, err = parseSeedList(" 4 , 5 ")
	if err != nil {
		t.Fatalf("parseSeedList with whitespace returned error: %v", err)
	}
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("parseSeedList with whitespace = %v, want [4 5]", got)
	}

	if _, err := parseSeedList(""); err == nil {
		t.Error("parseSeedList(\"\") expected error, got none")
	}
	if _, err := parseSeedList("1,-2"); err == nil {
		t.Error("parseSeedList(\"1,-2\") expected error, got none")
	}
}
