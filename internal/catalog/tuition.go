package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var currencySymbols = map[string]string{
	"$": "USD",
	"£": "GBP",
	"₹": "INR",
}

// ParseTuition splits a tuition string such as "USD 45,000", "45000 GBP"
// or "$45,000" into an ISO currency code and amount.
func ParseTuition(s string) (string, float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, fmt.Errorf("empty tuition")
	}
	for sym, code := range currencySymbols {
		if rest, ok := strings.CutPrefix(s, sym); ok {
			s = code + " " + rest
			break
		}
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("tuition %q: want \"<currency> <amount>\"", s)
	}
	cur, num := fields[0], fields[1]
	if isNumeric(cur) {
		cur, num = num, cur
	}
	cur = strings.ToUpper(cur)
	if len(cur) != 3 || !isLetters(cur) {
		return "", 0, fmt.Errorf("tuition %q: bad currency %q", s, cur)
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return "", 0, fmt.Errorf("tuition %q: bad amount %q", s, num)
	}
	return cur, amount, nil
}

func isNumeric(s string) bool {
	return s != "" && (unicode.IsDigit(rune(s[0])) || s[0] == '.')
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
