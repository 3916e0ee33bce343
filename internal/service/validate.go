package service

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLen = 8
	// maxPasswordBytes: предел bcrypt, длиннее пароль не хэшируется.
	maxPasswordBytes = 72
	minNameLen     = 2
	// passwordSymbols: допустимые спецсимволы для правила "хотя бы один символ".
	passwordSymbols = `!@#$%^&*(),.?":{}|<>`
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// normalizeEmail приводит e-mail к виду, в котором он хранится и сравнивается.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateEmail нормализует e-mail и проверяет формат.
func validateEmail(email string) (string, error) {
	norm := normalizeEmail(email)
	if !emailRe.MatchString(norm) {
		return "", ErrInvalidEmail
	}

	return norm, nil
}

// validatePassword проверяет все правила сразу и перечисляет каждое нарушенное.
// Классы символов только ASCII: "É" не считается заглавной буквой.
func validatePassword(pw string) error {
	var (
		upper, lower, digit, symbol bool
		details                     []string
	)

	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}

	if utf8.RuneCountInString(pw) < minPasswordLen {
		details = append(details, "Password must be at least 8 characters long")
	}
	if len(pw) > maxPasswordBytes {
		details = append(details, "Password must be at most 72 bytes long")
	}
	if !upper {
		details = append(details, "Password must contain at least one uppercase letter")
	}
	if !lower {
		details = append(details, "Password must contain at least one lowercase letter")
	}
	if !digit {
		details = append(details, "Password must contain at least one number")
	}
	if !symbol {
		details = append(details, "Password must contain at least one special character")
	}

	if len(details) > 0 {
		return &ValidationError{Err: ErrWeakPassword, Details: details}
	}

	return nil
}

// validateName обрезает пробелы и проверяет минимальную длину.
func validateName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if utf8.RuneCountInString(n) < minNameLen {
		return "", ErrInvalidName
	}

	return n, nil
}
