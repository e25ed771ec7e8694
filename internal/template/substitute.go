// Package template expands ${...} placeholders in scenario arguments and
// reads values out of JSON responses.
//
// A placeholder is one of
//
//	${name}           a scenario variable
//	${name.path}      a field of a saved object, e.g. ${item.id}
//	${env:NAME}       an environment variable
//	${fn(args)}       a built-in such as ${uuid()} or ${random_int(1,9)}
//
// and may end in |fallback, used when the value is missing.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"conductor/internal/core"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Substitute expands every placeholder in text. Missing values are reported
// together.
func Substitute(text string, vars core.Variables) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}
	var errs []error
	out := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		v, err := resolve(match[2:len(match)-1], vars)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return fmt.Sprint(v)
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// SubstituteValue expands strings anywhere inside v, descending into slices
// and maps. A string made of a single placeholder takes the value itself, so
// saved numbers and objects keep their type.
func SubstituteValue(v any, vars core.Variables) (any, error) {
	switch val := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatch(val); m != nil && m[0] == val {
			return resolve(m[1], vars)
		}
		return Substitute(val, vars)
	case []any:
		out := make([]any, len(val))
		var errs []error
		for i, item := range val {
			s, err := SubstituteValue(item, vars)
			if err != nil {
				errs = append(errs, fmt.Errorf("[%d]: %w", i, err))
			}
			out[i] = s
		}
		return out, errors.Join(errs...)
	case map[string]any:
		out := make(map[string]any, len(val))
		var errs []error
		for k, item := range val {
			s, err := SubstituteValue(item, vars)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
			}
			out[k] = s
		}
		return out, errors.Join(errs...)
	default:
		return v, nil
	}
}

func resolve(expr string, vars core.Variables) (any, error) {
	name, fallback, hasFallback := strings.Cut(expr, "|")
	name = strings.TrimSpace(name)

	v, err := lookup(name, vars)
	if err != nil && hasFallback && !errors.Is(err, errBuiltin) {
		return fallback, nil
	}
	return v, err
}

var errBuiltin = errors.New("built-in failed")

func lookup(name string, vars core.Variables) (any, error) {
	if env, ok := strings.CutPrefix(name, "env:"); ok {
		if v, ok := os.LookupEnv(env); ok {
			return v, nil
		}
		return nil, fmt.Errorf("env var %q not set", env)
	}
	if v, ok, err := call(name); ok {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBuiltin, err)
		}
		return v, nil
	}
	if v, ok := vars.Get(name); ok {
		return v, nil
	}
	if root, path, ok := strings.Cut(name, "."); ok {
		if obj, ok := vars.Get(root); ok {
			if v, ok := LookupValue(obj, path); ok {
				return v, nil
			}
			return nil, fmt.Errorf("variable %q has no field %q", root, path)
		}
	}
	return nil, fmt.Errorf("variable %q not found", name)
}
