package format

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.Indonesian)

// Grouped renders v with Indonesian separators ("1.234.567", "1.234,5").
func Grouped(v float64) string {
	return printer.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
}

// Rupiah renders v as a currency string for logs and snapshots.
func Rupiah(v float64) string {
	return "Rp " + Grouped(v)
}

// Balance is the compact display hint: millions collapse to "1,300 Jt".
func Balance(v float64) string {
	if math.Abs(v) >= 1_000_000 {
		jt := fmt.Sprintf("%.3f", v/1_000_000)
		return strings.Replace(jt, ".", ",", 1) + " Jt"
	}
	return Grouped(v)
}
