// Package templates renders notification bodies with text/template plus the
// sprig function set and a few number helpers.
package templates

import (
	"bytes"
	"fmt"
	"strconv"
	texttemplate "text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/dustin/go-humanize"
)

// Template is a compiled message template. It is safe for concurrent use.
type Template struct {
	name string
	body *texttemplate.Template
}

// FuncMap is sprig's text functions minus environment access, plus:
//
//	comma    1234567 -> "1,234,567" (any integer or numeric string)
//	minutes  time.Duration -> whole minutes
func FuncMap() texttemplate.FuncMap {
	f := sprig.TxtFuncMap()
	delete(f, "env")
	delete(f, "expandenv")
	f["comma"] = comma
	f["minutes"] = func(d time.Duration) int64 { return int64(d / time.Minute) }
	return f
}

func Compile(name, text string) (*Template, error) {
	t, err := texttemplate.New(name).Option("missingkey=zero").Funcs(FuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return &Template{name: name, body: t}, nil
}

func (t *Template) Name() string { return t.name }

func (t *Template) Render(vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template %s: %w", t.name, err)
	}
	return buf.String(), nil
}

func comma(v any) string {
	switch n := v.(type) {
	case int:
		return humanize.Comma(int64(n))
	case int64:
		return humanize.Comma(n)
	case int32:
		return humanize.Comma(int64(n))
	case uint32:
		return humanize.Comma(int64(n))
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return humanize.Comma(i)
		}
		return n
	default:
		return fmt.Sprint(v)
	}
}
