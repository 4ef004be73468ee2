package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Param is one query pair. HasValue is false for a bare "key" without "=".
type Param struct {
	Key      string
	Value    string
	HasValue bool
}

// Query keeps pairs in declaration order, duplicates included.
type Query []Param

// ParseQuery splits a raw query string, percent-decoding keys and values.
// Empty pairs ("a=1&&b=2") are skipped; an empty key is an error.
func ParseQuery(raw string) (Query, error) {
	if raw == "" {
		return nil, nil
	}

	var q Query
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, hasValue := strings.Cut(pair, "=")
		key, err := url.PathUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("query key %q: %w", rawKey, err)
		}
		if key == "" {
			return nil, errors.New("empty query key")
		}
		if !utf8.ValidString(key) {
			return nil, fmt.Errorf("query key %q is not valid utf-8", rawKey)
		}
		p := Param{Key: key, HasValue: hasValue}
		if hasValue {
			if p.Value, err = url.PathUnescape(rawValue); err != nil {
				return nil, fmt.Errorf("query value for %q: %w", key, err)
			}
			if !utf8.ValidString(p.Value) {
				return nil, fmt.Errorf("query value for %q is not valid utf-8", key)
			}
		}
		q = append(q, p)
	}
	return q, nil
}
