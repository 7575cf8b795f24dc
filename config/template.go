package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// valueFunc renders a config value against the previous stage's output.
type valueFunc func(previous interface{}) (interface{}, error)

var funcs = template.FuncMap{
	"json": func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"quote": strconv.Quote,
}

func isTemplate(s string) bool { return strings.Contains(s, "{{") }

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return t, nil
}

func execute(t *template.Template, data interface{}) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// compileValue walks v and reports whether any string in it is a template. The
// returned func rebuilds v with every template executed; other values are
// returned as they are.
func compileValue(path string, v interface{}) (valueFunc, bool, error) {
	switch t := v.(type) {
	case string:
		if !isTemplate(t) {
			return constant(t), false, nil
		}
		tmpl, err := parseTemplate(path, t)
		if err != nil {
			return nil, false, err
		}
		return func(previous interface{}) (interface{}, error) {
			return execute(tmpl, previous)
		}, true, nil

	case map[string]interface{}:
		fields := make(map[string]valueFunc, len(t))
		templated := false
		for k, child := range t {
			fn, tpl, err := compileValue(path+"."+k, child)
			if err != nil {
				return nil, false, err
			}
			fields[k] = fn
			templated = templated || tpl
		}
		if !templated {
			return constant(t), false, nil
		}
		return func(previous interface{}) (interface{}, error) {
			out := make(map[string]interface{}, len(fields))
			for k, fn := range fields {
				v, err := fn(previous)
				if err != nil {
					return nil, err
				}
				out[k] = v
			}
			return out, nil
		}, true, nil

	case []interface{}:
		items := make([]valueFunc, len(t))
		templated := false
		for i, child := range t {
			fn, tpl, err := compileValue(fmt.Sprintf("%s[%d]", path, i), child)
			if err != nil {
				return nil, false, err
			}
			items[i] = fn
			templated = templated || tpl
		}
		if !templated {
			return constant(t), false, nil
		}
		return func(previous interface{}) (interface{}, error) {
			out := make([]interface{}, len(items))
			for i, fn := range items {
				v, err := fn(previous)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}, true, nil

	default:
		return constant(t), false, nil
	}
}

func constant(v interface{}) valueFunc {
	return func(interface{}) (interface{}, error) { return v, nil }
}

// parseBool reads a rendered condition: empty is false.
func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
