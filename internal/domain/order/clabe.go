package order

import "fmt"

var clabeWeights = [3]int{3, 7, 1}

// ClabeCheckDigit computes the control digit for the first 17 digits of a CLABE.
func ClabeCheckDigit(significant string) (int, error) {
	if len(significant) != ClabeLength-1 || !isDigits(significant) {
		return 0, fmt.Errorf("clabe check digit needs %d digits, got %q", ClabeLength-1, significant)
	}

	sum := 0
	for i := 0; i < len(significant); i++ {
		sum += int(significant[i]-'0') * clabeWeights[i%3] % 10
	}
	return (10 - sum%10) % 10, nil
}

// ValidateClabe reports whether s is 18 digits with a correct check digit.
func ValidateClabe(s string) bool {
	if len(s) != ClabeLength || !isDigits(s) {
		return false
	}
	digit, err := ClabeCheckDigit(s[:ClabeLength-1])
	if err != nil {
		return false
	}
	return int(s[ClabeLength-1]-'0') == digit
}

// ClabeBankPrefix returns the three-digit institution prefix of a CLABE.
func ClabeBankPrefix(clabe string) string {
	if len(clabe) < 3 {
		return ""
	}
	return clabe[:3]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
