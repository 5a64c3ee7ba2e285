package product

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// first run of digits, allowing separators and spaces inside it
var numberRun = regexp.MustCompile(`\d(?:[\d.,\s\x{00A0}\x{202F}]*\d)?`)

// ParsePrice reads the first amount in text, tolerating currency symbols,
// thousands separators and either decimal mark ("€29.99", "1.299,00 €",
// "1,299.00"). ok is false when no amount can be read.
func ParsePrice(text string) (decimal.Decimal, bool) {
	m := numberRun.FindString(text)
	if m == "" {
		return decimal.Decimal{}, false
	}
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, m)

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case dot >= 0:
		if strings.Count(s, ".") > 1 || (len(s)-dot-1 == 3 && s[:dot] != "0") {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}
