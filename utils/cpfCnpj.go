package utils

import (
	"strings"

	"github.com/paemuri/brdoc"
)

// IsValidCPF accepts a CPF with or without punctuation.
func IsValidCPF(raw string) bool {
	d := OnlyDigits(raw)
	return len(d) == 11 && !repeatedDigit(d) && brdoc.IsCPF(d)
}

// IsValidCNPJ accepts a CNPJ with or without punctuation.
func IsValidCNPJ(raw string) bool {
	d := OnlyDigits(raw)
	return len(d) == 14 && !repeatedDigit(d) && brdoc.IsCNPJ(d)
}

// 000.000.000-00 and the like pass the check digits but are never issued
func repeatedDigit(d string) bool {
	return strings.Count(d, d[:1]) == len(d)
}

// FormatCPFCNPJ renders 000.000.000-00 or 00.000.000/0000-00.
// Anything that is not 11 or 14 digits is returned unchanged.
func FormatCPFCNPJ(raw string) string {
	d := OnlyDigits(raw)
	switch len(d) {
	case 11:
		return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11]
	case 14:
		return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
	default:
		return strings.TrimSpace(raw)
	}
}
