// Package canonical produces stable hex digests of structured values.
//
// Two payloads that are equal after JSON normalization hash identically,
// regardless of struct field order, map iteration order, or the language
// that produced them. Canonicalization rules:
//
//   - mappings are serialized with keys sorted lexicographically
//   - absent fields are omitted; explicit nulls are emitted as null
//   - numbers use the shortest representation that round-trips
//   - strings are UTF-8, JSON-escaped
//
// The digest is SHA-256 over the canonical serialization.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Marshal returns the canonical serialization of v. Arbitrary structs are
// first normalized through their JSON encoding, so field names follow the
// struct's json tags and omitempty applies.
func Marshal(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	if err := write(&b, norm); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Hash returns the SHA-256 hex digest of the canonical serialization of v.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashString returns the SHA-256 hex digest of a raw string message.
// Used for hash-chain messages that are already canonical by construction.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// normalize reduces v to the JSON data model: map[string]any, []any,
// string, float64, bool, nil. json.Number is preserved for integers that
// do not fit a float64 exactly.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64, json.Number:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return out, nil
}

func write(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(x)
		if err != nil {
			return err
		}
		b.Write(enc)
	case json.Number:
		return writeNumber(b, x)
	case float64:
		return writeFloat(b, x)
	case []any:
		b.WriteByte('[')
		for i, el := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := write(b, el); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := write(b, x[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

// writeNumber emits a json.Number with no trailing zeros beyond the minimum
// representation. Integers stay integers; everything else goes through the
// shortest float64 round-trip form.
func writeNumber(b *strings.Builder, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		b.WriteString(s)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonical: number %q: %w", s, err)
	}
	return writeFloat(b, f)
}

func writeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
