package mailtemplate

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// DefaultKey is used when a form names no template.
const DefaultKey = "default"

// Layouts renders mail bodies into liquid layouts keyed by template name.
// A layout receives the rendered body as {{ body }} plus any extra bindings.
type Layouts struct {
	engine  *liquid.Engine
	layouts map[string]string
	cache   sync.Map // map[string]*liquid.Template
}

func NewLayouts(layouts map[string]string) *Layouts {
	cp := make(map[string]string, len(layouts))
	for k, v := range layouts {
		cp[k] = v
	}
	return &Layouts{engine: liquid.NewEngine(), layouts: cp}
}

// Has reports whether a layout exists for key.
func (l *Layouts) Has(key string) bool {
	_, ok := l.layouts[key]
	return ok
}

// Wrap renders body into the layout named key, falling back to the default
// layout. Without any layout the body is returned unchanged.
func (l *Layouts) Wrap(key, body string, vars map[string]any) (string, error) {
	if key == "" || !l.Has(key) {
		key = DefaultKey
	}
	src, ok := l.layouts[key]
	if !ok {
		return body, nil
	}
	tpl, err := l.parse(key, src)
	if err != nil {
		return body, err
	}
	bindings := liquid.Bindings{}
	for k, v := range vars {
		bindings[k] = v
	}
	bindings["body"] = body
	out, rerr := tpl.RenderString(bindings)
	if rerr != nil {
		return body, fmt.Errorf("render layout %s: %w", key, rerr)
	}
	return out, nil
}

// Validate parses every layout and reports the first syntax error.
func (l *Layouts) Validate() error {
	for key, src := range l.layouts {
		if _, err := l.parse(key, src); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layouts) parse(key, src string) (*liquid.Template, error) {
	if cached, ok := l.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := l.engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse layout %s: %w", key, err)
	}
	l.cache.Store(key, tpl)
	return tpl, nil
}
