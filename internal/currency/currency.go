// Package currency converts tuition amounts to Indian rupees using a fixed
// rate table.
package currency

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Target is the currency every conversion produces.
const Target = "INR"

var (
	// ErrUnsupportedCurrency is returned for currencies outside the table.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrInvalidAmount is returned for negative, NaN or infinite amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// rates are INR per unit.
var rates = map[string]float64{
	"USD": 83.50,
	"GBP": 105.20,
	"AUD": 55.30,
}

// Supported returns the convertible currency codes, sorted.
func Supported() []string {
	codes := make([]string, 0, len(rates))
	for c := range rates {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Rate returns the INR rate for code.
func Rate(code string) (float64, bool) {
	r, ok := rates[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// ToINR converts amount in code to rupees, rounded to paise.
func ToINR(amount float64, code string) (float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	rate, ok := Rate(code)
	if !ok {
		return 0, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedCurrency, code, strings.Join(Supported(), ", "))
	}
	return math.Round(amount*rate*100) / 100, nil
}

// Amount is an amount in a given currency.
type Amount struct {
	Value    float64
	Currency string
}

// Result is the outcome of one conversion in ConvertAll. Err holds the
// failure message, empty on success.
type Result struct {
	Amount
	INR float64
	Err string
}

// ConvertAll converts every amount. A failed conversion is recorded in its
// Result and does not stop the others.
func ConvertAll(amounts []Amount) []Result {
	out := make([]Result, len(amounts))
	for i, a := range amounts {
		out[i].Amount = a
		inr, err := ToINR(a.Value, a.Currency)
		if err != nil {
			out[i].Err = Message(err, a.Currency)
			continue
		}
		out[i].INR = inr
	}
	return out
}

// Message renders a conversion error the way it is shown to users.
func Message(err error, code string) string {
	switch {
	case errors.Is(err, ErrUnsupportedCurrency):
		return "Unsupported currency: " + code
	case errors.Is(err, ErrInvalidAmount):
		return "Invalid amount"
	default:
		return err.Error()
	}
}

// FeesInINR converts a currency-to-amount map. Each entry holds the INR
// amount formatted to two decimals, or the conversion error message.
func FeesInINR(fees map[string]float64) map[string]string {
	out := make(map[string]string, len(fees))
	for code, amount := range fees {
		inr, err := ToINR(amount, code)
		if err != nil {
			out[code] = "Conversion Error: " + Message(err, code)
			continue
		}
		out[code] = strconv.FormatFloat(inr, 'f', 2, 64)
	}
	return out
}
