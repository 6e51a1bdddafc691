package config

import (
	"bufio"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ParseError locates a problem in a gin file.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// binding is one configurable parameter of a scope.
type binding struct {
	scope   string
	section string
	key     string
	value   reflect.Value
}

// bindings lists the parameters of cfg keyed by "scope.key". Scopes come
// from the gin tags of the top-level fields, keys from the yaml tags of
// the scope structs.
func bindings(cfg *Config) map[string]binding {
	out := make(map[string]binding)
	root := reflect.ValueOf(cfg).Elem()
	rootType := root.Type()
	for i := 0; i < rootType.NumField(); i++ {
		scope := rootType.Field(i).Tag.Get("gin")
		sectionName := rootType.Field(i).Tag.Get("yaml")
		section := root.Field(i)
		for j := 0; j < section.NumField(); j++ {
			key := strings.Split(section.Type().Field(j).Tag.Get("yaml"), ",")[0]
			out[scope+"."+key] = binding{scope: scope, section: sectionName, key: key, value: section.Field(j)}
		}
	}
	return out
}

// ParseGin applies `Scope.key = value` bindings onto cfg.
func ParseGin(text string, cfg *Config) error {
	params := bindings(cfg)
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}
		name, raw, ok := strings.Cut(line, "=")
		if !ok {
			return &ParseError{Line: lineNo, Msg: fmt.Sprintf("expected 'Scope.key = value', got %q", line)}
		}
		name = strings.TrimSpace(name)
		raw = strings.TrimSpace(raw)
		scope, _, ok := strings.Cut(name, ".")
		if !ok {
			return &ParseError{Line: lineNo, Msg: fmt.Sprintf("binding %q has no scope", name)}
		}
		b, ok := params[name]
		if !ok {
			if !knownScope(params, scope) {
				return &ParseError{Line: lineNo, Msg: fmt.Sprintf("unknown scope %q", scope)}
			}
			return &ParseError{Line: lineNo, Msg: fmt.Sprintf("unknown parameter %q", name)}
		}
		if err := setValue(b.value, raw); err != nil {
			return &ParseError{Line: lineNo, Msg: fmt.Sprintf("%s: %v", name, err)}
		}
	}
	return scanner.Err()
}

// Set assigns one parameter by its "Scope.key" name, raw being written as
// in a gin file.
func (c *Config) Set(name, raw string) error {
	b, ok := bindings(c)[name]
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, name)
	}
	if err := setValue(b.value, strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	return nil
}

// Diff lists the "Scope.key" names of the parameters whose values differ
// between a and b, sorted.
func Diff(a, b *Config) []string {
	pa, pb := bindings(a), bindings(b)
	var names []string
	for name, ba := range pa {
		if formatValue(ba.value) != formatValue(pb[name].value) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func knownScope(params map[string]binding, scope string) bool {
	for _, b := range params {
		if b.scope == scope {
			return true
		}
	}
	return false
}

// stripComment drops everything after a '#' outside of quotes.
func stripComment(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return strings.TrimSpace(line[:i])
		}
	}
	return strings.TrimSpace(line)
}

func setValue(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.Bool:
		switch raw {
		case "True", "true":
			v.SetBool(true)
		case "False", "false":
			v.SetBool(false)
		default:
			return fmt.Errorf("expected a boolean, got %q", raw)
		}
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", raw)
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", raw)
		}
		v.SetFloat(f)
	case reflect.String:
		s, err := unquote(raw)
		if err != nil {
			return err
		}
		v.SetString(s)
	default:
		return fmt.Errorf("unsupported parameter kind %s", v.Kind())
	}
	return nil
}

func unquote(raw string) (string, error) {
	if len(raw) >= 2 {
		first, last := raw[0], raw[len(raw)-1]
		if (first == '"' || first == '\'') && first == last {
			return raw[1 : len(raw)-1], nil
		}
	}
	return "", fmt.Errorf("expected a quoted string, got %q", raw)
}

// OperativeString renders the configuration in gin format, scopes and keys
// sorted.
func (c *Config) OperativeString() string {
	byScope := make(map[string][]binding)
	for _, b := range bindings(c) {
		byScope[b.scope] = append(byScope[b.scope], b)
	}
	scopes := make([]string, 0, len(byScope))
	for scope := range byScope {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	var sb strings.Builder
	rule := "# " + strings.Repeat("=", 78)
	for i, scope := range scopes {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# Parameters for %s:\n%s\n", scope, rule)
		params := byScope[scope]
		sort.Slice(params, func(a, b int) bool { return params[a].key < params[b].key })
		for _, b := range params {
			fmt.Fprintf(&sb, "%s.%s = %s\n", scope, b.key, formatValue(b.value))
		}
	}
	return sb.String()
}

func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return "True"
		}
		return "False"
	case reflect.Int, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.String:
		return "'" + v.String() + "'"
	}
	return fmt.Sprint(v.Interface())
}
