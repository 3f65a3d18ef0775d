package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const passwordMinLength = 12

var weakPasswords = map[string]bool{
	"password":      true,
	"password1":     true,
	"password123":   true,
	"123456":        true,
	"123456789":     true,
	"qwerty":        true,
	"letmein":       true,
	"admin":         true,
	"administrator": true,
	"changeme":      true,
	"welcome":       true,
}

const (
	passwordLower   = "abcdefghijkmnopqrstuvwxyz"
	passwordUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordDigits  = "23456789"
	passwordSpecial = "!@#$%^&*-_=+"
)

// ValidatePassword checks a candidate against the panel's complexity policy:
// minimum length, all four character classes, and not a known weak value.
func ValidatePassword(pw string) error {
	if len(pw) < passwordMinLength {
		return fmt.Errorf("password must be at least %d characters", passwordMinLength)
	}
	if weakPasswords[strings.ToLower(pw)] {
		return fmt.Errorf("password is too common")
	}
	var lower, upper, digit, special bool
	for _, c := range pw {
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		default:
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return fmt.Errorf("password must contain lower, upper, digit and special characters")
	}
	return nil
}

// GeneratePassword produces a random password satisfying ValidatePassword.
// The caller receives it exactly once; it is never persisted in clear text.
func GeneratePassword() (string, error) {
	// One guaranteed character per class, the rest from the union.
	classes := []string{passwordLower, passwordUpper, passwordDigits, passwordSpecial}
	all := strings.Join(classes, "")

	chars := make([]byte, 0, 16)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < 16 {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Fisher-Yates so the guaranteed characters are not predictable prefixes.
	for i := len(chars) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		chars[i], chars[j.Int64()] = chars[j.Int64()], chars[i]
	}

	pw := string(chars)
	if err := ValidatePassword(pw); err != nil {
		return "", fmt.Errorf("generated password failed policy: %w", err)
	}
	return pw, nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

// generateSecret returns a random hex token for the panel's session key.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
