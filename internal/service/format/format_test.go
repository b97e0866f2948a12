package format

import "testing"

func TestBalance(t *testing.T) {
	cases := map[float64]string{
		1300000: "1,300 Jt",
		2500000: "2,500 Jt",
		1234567: "1,235 Jt",
		613000:  "613.000",
		950:     "950",
	}
	for in, want := range cases {
		if got := Balance(in); got != want {
			t.Errorf("Balance(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestRupiah(t *testing.T) {
	if got := Rupiah(1234567); got != "Rp 1.234.567" {
		t.Fatalf("unexpected %q", got)
	}
}
