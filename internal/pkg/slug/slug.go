package slug

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Alphabet for generated slugs: lowercase alphanumerics only, so slugs are
// URL- and case-safe.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const (
	DefaultLength = 6
	maxAttempts   = 5
)

// ErrSlugExhausted means generation kept colliding after the bounded retry
// count; the alphabet or length needs widening, looping further will not help.
var ErrSlugExhausted = errors.New("slug space exhausted after max attempts")

// ErrSlugConflict means a vanity slug's sanitized form is already taken.
// The requested value is never silently mutated to avoid the conflict.
var ErrSlugConflict = errors.New("slug already taken")

// ExistsFunc reports whether a slug is already assigned.
type ExistsFunc func(slug string) (bool, error)

// Allocate generates a random slug of the given length and checks it for
// uniqueness via exists, retrying on collision up to a bounded attempt count.
func Allocate(length int, exists ExistsFunc) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := generate(length)
		if err != nil {
			return "", err
		}
		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("slug uniqueness check failed: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", ErrSlugExhausted
}

// AllocateVanity sanitizes a caller-supplied slug and verifies uniqueness.
// A collision is an error, never an implicit rename.
func AllocateVanity(raw string, exists ExistsFunc) (string, error) {
	sanitized := Sanitize(raw)
	if sanitized == "" {
		return "", fmt.Errorf("vanity slug %q sanitizes to empty", raw)
	}

	taken, err := exists(sanitized)
	if err != nil {
		return "", fmt.Errorf("slug uniqueness check failed: %w", err)
	}
	if taken {
		return "", ErrSlugConflict
	}
	return sanitized, nil
}

var (
	invalidChars    = regexp.MustCompile(`[^a-z0-9-]+`)
	repeatedHyphens = regexp.MustCompile(`-{2,}`)
)

// Sanitize lowercases the input, replaces anything outside [a-z0-9-] with a
// hyphen, collapses repeated hyphens and trims leading/trailing hyphens.
func Sanitize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = invalidChars.ReplaceAllString(s, "-")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// generate creates a cryptographically secure random slug.
func generate(length int) (string, error) {
	// Rejection sampling to avoid modulo bias.
	// 252 is the largest multiple of 36 below 256.
	const maxRandomByte = 252

	slug := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if b >= maxRandomByte {
				continue
			}
			slug[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(slug), nil
}
