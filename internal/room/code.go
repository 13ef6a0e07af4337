package room

import (
	"math/rand"
	"strings"
)

// CodeAlphabet leaves out I, O, 0 and 1.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 6

func NewCode() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = CodeAlphabet[rand.Intn(len(CodeAlphabet))]
	}
	return string(b)
}

// ValidCode reports whether s could have been produced by NewCode.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(CodeAlphabet, c) {
			return false
		}
	}
	return true
}
