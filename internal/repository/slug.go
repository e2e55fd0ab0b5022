package repository

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	fallbackSlug  = "incognito"
	maxSlugLength = 30
	maxSlugTries  = 100
)

// Slugify normaliza un nombre a un slug URL-safe en minúsculas.
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	return slug
}

// UniqueSlug devuelve un slug libre derivado de base, agregando -N si hace falta.
func UniqueSlug(ctx context.Context, accounts AccountRepository, base string) (string, error) {
	slug := Slugify(base)
	if slug == "" {
		slug = fallbackSlug
	}
	candidate := slug
	for i := 1; i <= maxSlugTries; i++ {
		exists, err := accounts.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", slug, i)
	}
	return "", fmt.Errorf("no free slug for %q", base)
}
