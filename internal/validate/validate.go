package validate

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"bazaar/internal/domain"
)

var (
	reEmail  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reID     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	rePostal = regexp.MustCompile(`^[A-Za-z0-9 -]{3,10}$`)
	reIdem   = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,100}$`)
)

const (
	maxQty  = 1000
	maxNote = 500
)

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 50 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// ID validates a simple resource identifier (product/shop/order ids).
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// Qty accepts 1..1000 units per line.
func Qty(n int) bool { return n >= 1 && n <= maxQty }

// Stock accepts an absolute on-hand quantity.
func Stock(n int) bool { return n >= 0 && n <= 1_000_000 }

// ShopName validates a shop display name.
func ShopName(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 60 {
		return "", false
	}
	return s, true
}

// Title validates a product title.
func Title(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 120 {
		return "", false
	}
	return s, true
}

func Note(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, len(s) <= maxNote
}

func IdempotencyKey(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	return s, reIdem.MatchString(s)
}

// Money accepts a non-negative amount with at most two decimal places.
func Money(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() || !d.Equal(d.Round(2)) {
		return decimal.Zero, false
	}
	return d, true
}

func PaymentMethod(s string) (domain.PaymentMethod, bool) {
	m := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case domain.PaymentCard, domain.PaymentCOD, domain.PaymentWallet:
		return m, true
	}
	return "", false
}

func PaymentStatus(s string) (domain.PaymentStatus, bool) {
	p := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case domain.PaymentPending, domain.PaymentPaid, domain.PaymentFailed, domain.PaymentRefunded:
		return p, true
	}
	return "", false
}

// Address trims every field and requires the ones a courier needs.
func Address(a domain.Address) (domain.Address, bool) {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.Region = strings.TrimSpace(a.Region)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.TrimSpace(a.Country)
	a.Phone = strings.TrimSpace(a.Phone)
	if a.Name == "" || a.Line1 == "" || a.City == "" || a.Country == "" {
		return a, false
	}
	if len(a.Name) > 80 || len(a.Line1) > 120 || len(a.Line2) > 120 || len(a.City) > 60 {
		return a, false
	}
	return a, rePostal.MatchString(a.PostalCode)
}

// Password enforces a simple length window for login checks.
func Password(s string) bool {
	l := len(s)
	if l < 8 || l > 20 {
		return false
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z':
			hasLower = true
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case '0' <= r && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	return hasLower && hasUpper && hasDigit && hasSymbol
}
