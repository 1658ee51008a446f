// Package validation performs structural checks on external biomedical
// identifiers (HPO terms, gene symbols, disease ids) before they enter
// the diagnosis pipeline, per spec §2's Input Validator.
package validation

import (
	"regexp"

	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

var (
	hpoCodeRe     = regexp.MustCompile(`^HP:\d{7}$`)
	geneSymbolRe  = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{0,19}$`)
	diseaseIDRe   = regexp.MustCompile(`^(OMIM|ORPHA|MONDO):\d+$`)
)

// IsHPOCode reports whether s has the shape "HP:" followed by 7 digits.
func IsHPOCode(s string) bool {
	return hpoCodeRe.MatchString(s)
}

// ValidateHPOCode returns a ValidationFailed error if s is not a
// well-formed HPO code.
func ValidateHPOCode(s string) error {
	if !IsHPOCode(s) {
		return errs.ValidationFailed("not a well-formed HPO code: "+s, nil)
	}
	return nil
}

// IsGeneSymbol reports whether s looks like an HGNC gene symbol: upper
// case alphanumerics and hyphens, starting with a letter or digit.
func IsGeneSymbol(s string) bool {
	return geneSymbolRe.MatchString(s)
}

// ValidateGeneSymbol returns a ValidationFailed error if s is not a
// well-formed gene symbol.
func ValidateGeneSymbol(s string) error {
	if !IsGeneSymbol(s) {
		return errs.ValidationFailed("not a well-formed gene symbol: "+s, nil)
	}
	return nil
}

// IsDiseaseID reports whether s has the shape of an OMIM, Orphanet, or
// MONDO disease identifier.
func IsDiseaseID(s string) bool {
	return diseaseIDRe.MatchString(s)
}

// ValidateDiseaseID returns a ValidationFailed error if s is not a
// well-formed disease identifier.
func ValidateDiseaseID(s string) error {
	if !IsDiseaseID(s) {
		return errs.ValidationFailed("not a well-formed disease id: "+s, nil)
	}
	return nil
}

// IsNegatedPhenotypeToken reports whether raw uses the "NOT:" or "-"
// negation prefix convention from spec §4.13's process_intake.
func IsNegatedPhenotypeToken(raw string) bool {
	if len(raw) == 0 {
		return false
	}
	if len(raw) >= 4 && raw[:4] == "NOT:" {
		return true
	}
	return raw[0] == '-'
}

// StripNegationPrefix removes a recognized negation prefix, returning
// the remaining text unchanged if none was present.
func StripNegationPrefix(raw string) string {
	if len(raw) >= 4 && raw[:4] == "NOT:" {
		return raw[4:]
	}
	if len(raw) >= 1 && raw[0] == '-' {
		return raw[1:]
	}
	return raw
}
