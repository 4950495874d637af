// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"strings"
)

// TLD - зона, в которой продаются домены.
const TLD = "calcio"

const maxLabelLength = 63

var (
	// ErrEmptyDomain возвращается для пустого имени.
	ErrEmptyDomain = errors.New("domain name is empty")
	// ErrInvalidDomain возвращается для имени с недопустимыми символами или длиной.
	ErrInvalidDomain = errors.New("domain name is invalid")
	// ErrForeignTLD возвращается для имени в другой зоне.
	ErrForeignTLD = errors.New("domain is not in the calcio zone")
)

// NormalizeDomain приводит имя к виду "label.calcio". Допускается ввод
// без зоны, с зоной и в любом регистре.
func NormalizeDomain(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", ErrEmptyDomain
	}

	label := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		if name[i+1:] != TLD {
			return "", ErrForeignTLD
		}
		label = name[:i]
	}

	if !IsValidLabel(label) {
		return "", ErrInvalidDomain
	}
	return label + "." + TLD, nil
}

// IsValidLabel проверяет метку домена: латинские буквы, цифры и дефис,
// не больше 63 символов, дефис не в начале и не в конце.
func IsValidLabel(label string) bool {
	if label == "" || len(label) > maxLabelLength {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}

	for i := 0; i < len(label); i++ {
		ch := label[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '-':
		default:
			return false
		}
	}
	return true
}
