package convo

import (
	"fmt"
	"strconv"
	"strings"
)

// foldDigits maps Arabic-Indic and Extended Arabic-Indic digits onto ASCII
// and drops common separators. Anything else is preserved so validation can
// reject it.
func foldDigits(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩': // ٠..٩
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹': // ۰..۹
			b.WriteRune('0' + (r - '۰'))
		case r == ' ' || r == '\t' || r == '.' || r == ',' || r == '_' ||
			r == '٫' || r == '٬' || r == ' ' || r == ' ':
			// separators users paste along with numbers
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAmount normalises user-entered money text to a positive integer in
// minor units, accepting Arabic digits and arbitrary separators. min and max
// bound the result; max <= 0 means unbounded above.
func ParseAmount(text string, min, max int64) (int64, error) {
	folded := foldDigits(strings.TrimSpace(text))
	if folded == "" {
		return 0, fmt.Errorf("empty amount")
	}
	n, err := strconv.ParseInt(folded, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", text)
	}
	if n <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	if n < min {
		return 0, fmt.Errorf("amount below minimum %d", min)
	}
	if max > 0 && n > max {
		return 0, fmt.Errorf("amount above maximum %d", max)
	}
	return n, nil
}

// ParseUserID normalises a wallet id typed by a user, accepting Arabic
// digits.
func ParseUserID(text string) (int64, error) {
	folded := foldDigits(strings.TrimSpace(text))
	if folded == "" {
		return 0, fmt.Errorf("empty id")
	}
	n, err := strconv.ParseInt(folded, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not a valid id: %q", text)
	}
	return n, nil
}

// ParsePhone validates a Syrian mobile number, accepting Arabic digits and
// separators. The normalised form is 09xxxxxxxx.
func ParsePhone(text string) (string, error) {
	folded := foldDigits(strings.TrimSpace(text))
	folded = strings.TrimPrefix(folded, "+963")
	folded = strings.TrimPrefix(folded, "963")
	if !strings.HasPrefix(folded, "0") {
		folded = "0" + folded
	}
	if len(folded) != 10 || !strings.HasPrefix(folded, "09") {
		return "", fmt.Errorf("malformed phone: %q", text)
	}
	for _, r := range folded {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("malformed phone: %q", text)
		}
	}
	return folded, nil
}
