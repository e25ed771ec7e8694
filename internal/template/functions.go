package template

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Func is a built-in callable as ${name(arg, ...)}.
type Func func(args []string) (string, error)

var builtins = map[string]Func{
	"uuid":          noArgs(func() string { return uuid.NewString() }),
	"ulid":          noArgs(func() string { return ulid.Make().String() }),
	"unix":          noArgs(func() string { return strconv.FormatInt(time.Now().Unix(), 10) }),
	"unix_ms":       noArgs(func() string { return strconv.FormatInt(time.Now().UnixMilli(), 10) }),
	"now":           now,
	"random_int":    randomInt,
	"random_string": randomString,
	"email":         email,
}

// verbatim lists built-ins whose argument is a single unsplit string.
var verbatim = map[string]bool{"now": true}

// call evaluates expr when it names a built-in. ok is false for plain
// variable names.
func call(expr string) (val string, ok bool, err error) {
	open := strings.IndexByte(expr, '(')
	if open < 0 || !strings.HasSuffix(expr, ")") {
		return "", false, nil
	}
	name := expr[:open]
	fn, ok := builtins[name]
	if !ok {
		return "", false, nil
	}
	var args []string
	raw := strings.TrimSpace(expr[open+1 : len(expr)-1])
	switch {
	case raw == "":
	case verbatim[name]:
		args = []string{raw}
	default:
		for _, a := range strings.Split(raw, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	val, err = fn(args)
	if err != nil {
		return "", true, fmt.Errorf("%s(): %w", name, err)
	}
	return val, true, nil
}

func noArgs(fn func() string) Func {
	return func(args []string) (string, error) {
		if len(args) > 0 {
			return "", fmt.Errorf("takes no arguments, got %d", len(args))
		}
		return fn(), nil
	}
}

// now formats the current time with a Go layout, RFC 3339 by default.
// The layout is taken verbatim, commas and spaces included.
func now(args []string) (string, error) {
	layout := time.RFC3339
	if len(args) > 0 {
		layout = args[0]
	}
	return time.Now().Format(layout), nil
}

// randomInt returns an integer in [min, max].
func randomInt(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("want min and max, got %d arguments", len(args))
	}
	lo, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("min: %w", err)
	}
	hi, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("max: %w", err)
	}
	if lo > hi {
		return "", fmt.Errorf("min %d is greater than max %d", lo, hi)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(hi-lo+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(lo+n.Int64(), 10), nil
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const maxRandomString = 1000

func randomString(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("want a length, got %d arguments", len(args))
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "", fmt.Errorf("length: %w", err)
	}
	if n <= 0 || n > maxRandomString {
		return "", fmt.Errorf("length must be between 1 and %d, got %d", maxRandomString, n)
	}
	return randomFrom(alphanumeric, n)
}

// email returns a unique address for sign-up flows, in the given domain or
// example.test.
func email(args []string) (string, error) {
	domain := "example.test"
	switch len(args) {
	case 0:
	case 1:
		domain = args[0]
	default:
		return "", fmt.Errorf("want at most a domain, got %d arguments", len(args))
	}
	local, err := randomFrom(alphanumeric[:36], 10)
	if err != nil {
		return "", err
	}
	return "user-" + strings.ToLower(local) + "@" + domain, nil
}

func randomFrom(charset string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = charset[k.Int64()]
	}
	return string(out), nil
}
