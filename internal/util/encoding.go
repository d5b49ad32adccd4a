package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeSymbol canonicalises a trading symbol typed by a user: NFKC
// folds full-width and compatibility characters, surrounding space is
// dropped and the result is upper-cased ("ｓｂｉｎ-eq " becomes "SBIN-EQ").
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(s)))
}
