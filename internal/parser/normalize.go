package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const maxDigits = 15

type CatalogParser struct {
	currencyMarker string
	soldMarker     string
	pricePattern   *regexp.Regexp
	numberPattern  *regexp.Regexp
	units          map[string]int64
}

func NewCatalogParser() *CatalogParser {
	return &CatalogParser{
		currencyMarker: "Rp",
		soldMarker:     "terjual",
		pricePattern:   regexp.MustCompile(`(?i)\brp\.?\s*(\d[\d.,]*)`),
		numberPattern:  regexp.MustCompile(`(\d+)((?:[.,]\d+)*)`),
		units: map[string]int64{
			"rb":   1_000,
			"ribu": 1_000,
			"k":    1_000,
			"jt":   1_000_000,
			"juta": 1_000_000,
		},
	}
}

// NormalizePrice returns the amount following the first currency marker.
// Dots are grouping separators; a trailing comma group that is not three
// digits long is a decimal part and is dropped.
func (p *CatalogParser) NormalizePrice(raw string) int64 {
	matches := p.pricePattern.FindStringSubmatch(raw)
	if len(matches) < 2 {
		return 0
	}
	return parseGroupedInt(matches[1])
}

// NormalizeSoldCount reads the first number after the sold marker and
// applies the thousand/million unit that follows it.
func (p *CatalogParser) NormalizeSoldCount(raw string) int64 {
	lower := strings.ToLower(raw)
	idx := strings.Index(lower, p.soldMarker)
	if idx < 0 {
		return 0
	}
	rest := lower[idx+len(p.soldMarker):]

	loc := p.numberPattern.FindStringSubmatchIndex(rest)
	if loc == nil {
		return 0
	}
	intPart := rest[loc[2]:loc[3]]
	groups := strings.FieldsFunc(rest[loc[4]:loc[5]], isSeparator)
	multiplier := p.unitMultiplier(rest[loc[1]:])

	if multiplier == 1 {
		digits := intPart
		if len(groups) > 0 && thousandGroups(groups) {
			// "Terjual 1.250.000" without a unit is a grouped integer
			digits += strings.Join(groups, "")
		}
		if len(digits) > maxDigits {
			return 0
		}
		return parseDigits(digits)
	}

	whole := parseDigits(intPart)
	if len(intPart) > maxDigits || whole > (1<<62)/multiplier {
		return 0
	}
	result := whole * multiplier

	if len(groups) > 0 {
		frac := groups[0]
		if len(frac) > 6 {
			frac = frac[:6]
		}
		scale := int64(1)
		for range frac {
			scale *= 10
		}
		result += parseDigits(frac) * multiplier / scale
	}

	return result
}

func isSeparator(r rune) bool {
	return r == '.' || r == ','
}

func thousandGroups(groups []string) bool {
	for _, g := range groups {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func (p *CatalogParser) unitMultiplier(remainder string) int64 {
	remainder = strings.TrimLeftFunc(remainder, func(r rune) bool {
		return unicode.IsSpace(r) || r == '+'
	})

	end := strings.IndexFunc(remainder, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	word := remainder
	if end >= 0 {
		word = remainder[:end]
	}

	if m, ok := p.units[word]; ok {
		return m
	}
	return 1
}

func parseGroupedInt(token string) int64 {
	token = strings.TrimRight(token, ".,")
	if token == "" {
		return 0
	}

	groups := strings.FieldsFunc(token, isSeparator)
	lastSep := strings.LastIndexAny(token, ".,")
	if lastSep >= 0 && len(groups) > 1 {
		last := groups[len(groups)-1]
		sep := token[lastSep]
		mixed := strings.ContainsRune(token, '.') && strings.ContainsRune(token, ',')
		if len(last) != 3 || (mixed && strings.Count(token, string(sep)) == 1 && token[strings.IndexAny(token, ".,")] != sep) {
			groups = groups[:len(groups)-1]
		}
	}

	return parseDigits(strings.Join(groups, ""))
}

func parseDigits(s string) int64 {
	if s == "" || len(s) > maxDigits+3 {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatRupiah renders an amount the way the catalog displays it.
func FormatRupiah(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var b strings.Builder
	b.WriteString("Rp ")
	if neg {
		b.WriteByte('-')
	}
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	return b.String()
}
