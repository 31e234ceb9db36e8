package id

import (
	"testing"
)

func TestFormatIncid(t *testing.T) {
	tests := []struct {
		name string
		site int
		seq  int
		want string
	}{
		{name: "small sequence", site: 2024, seq: 1, want: "2024:0000001"},
		{name: "large sequence", site: 2024, seq: 1234567, want: "2024:1234567"},
		{name: "padded site", site: 7, seq: 42, want: "0007:0000042"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatIncid(tt.site, tt.seq)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseIncid(t *testing.T) {
	tests := []struct {
		input    string
		wantSite int
		wantSeq  int
		wantErr  bool
	}{
		{input: "2024:0000001", wantSite: 2024, wantSeq: 1},
		{input: " 2024:0001000 ", wantSite: 2024, wantSeq: 1000},
		{input: "2024-0000001", wantErr: true},
		{input: "2024:001", wantErr: true},
		{input: "abcd:0000001", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIncid(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Site != tt.wantSite || got.Seq != tt.wantSeq {
				t.Errorf("got %+v, want site=%d seq=%d", got, tt.wantSite, tt.wantSeq)
			}
			if got.String() != FormatIncid(tt.wantSite, tt.wantSeq) {
				t.Errorf("round trip mismatch: %q", got.String())
			}
		})
	}
}

func TestCompareIncidsIsNumeric(t *testing.T) {
	cmp, err := CompareIncids("2024:0000010", "2024:0000009")
	if err != nil {
		t.Fatalf("CompareIncids failed: %v", err)
	}
	if cmp != 1 {
		t.Errorf("expected 2024:0000010 > 2024:0000009, got %d", cmp)
	}

	cmp, err = CompareIncids("2023:9999999", "2024:0000001")
	if err != nil {
		t.Fatalf("CompareIncids failed: %v", err)
	}
	if cmp != -1 {
		t.Errorf("expected earlier site to sort first, got %d", cmp)
	}

	if _, err := CompareIncids("2024:0000001", "bogus"); err == nil {
		t.Error("expected error for malformed incid")
	}
}

func TestFragIDs(t *testing.T) {
	if got := FormatFragID(7); got != "00007" {
		t.Errorf("FormatFragID(7) = %q", got)
	}
	n, err := ParseFragID("00012")
	if err != nil || n != 12 {
		t.Errorf("ParseFragID(00012) = %d, %v", n, err)
	}
	if _, err := ParseFragID("1a"); err == nil {
		t.Error("expected error for non-numeric fragment id")
	}
}
