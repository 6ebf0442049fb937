package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizeQuery lowercases and collapses whitespace so that trivially
// different phrasings of the same question share one signature.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// QuerySignature is the stable key used to group repeated questions for
// prompt suppression and analytics.
func QuerySignature(query string) string {
	return HashString(NormalizeQuery(query))
}
