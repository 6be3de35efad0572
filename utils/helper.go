package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// phoneRegion is used for numbers typed without a country code.
const phoneRegion = "BR"

var errInvalidPhone = errors.New("phone number is not valid")

// NormalizePhoneNumber returns the E.164 form ("+5511987654321") of a
// Brazilian number typed in any of the usual ways.
func NormalizePhoneNumber(phoneNumber string) (string, error) {
	p, err := libphonenumber.Parse(strings.TrimSpace(phoneNumber), phoneRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidPhone, err)
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", errInvalidPhone
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

func NewTrue() *bool {
	b := true
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]bool, len(slice))
	var result []T
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	if len(defaults) > 0 {
		return defaults[0]
	}
	return zero
}

func NilIfEmpty[T comparable](value T) *T {
	var zero T
	if value == zero {
		return nil
	}
	return &value
}

// OnlyDigits drops everything that is not 0-9.
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

