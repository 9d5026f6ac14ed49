// Package render produces device configuration files from template bodies.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"go.uber.org/zap"

	"github.com/yourorg/provision-gateway/pkg/identity"
)

var (
	// ErrTemplateSyntax is returned when a template body cannot be parsed
	ErrTemplateSyntax = errors.New("template syntax error")
	// ErrRenderFailed is returned when a parsed template fails to execute
	ErrRenderFailed = errors.New("template execution failed")
)

// bannedTags reach outside the template body
var bannedTags = []string{"include", "extends", "import", "ssi"}

var registerFilters sync.Once

// Renderer runs the structured pass followed by the flat %%name%% pass
type Renderer struct {
	set    *pongo2.TemplateSet
	parse  sync.Mutex
	logger *zap.Logger
}

// NewRenderer creates a renderer with a private template set that cannot
// read files.
func NewRenderer(logger *zap.Logger) (*Renderer, error) {
	registerFilters.Do(registerBuiltinFilters)

	set := pongo2.NewSet("device-templates", denyLoader{})
	for _, tag := range bannedTags {
		if err := set.BanTag(tag); err != nil {
			return nil, fmt.Errorf("failed to ban tag %q: %w", tag, err)
		}
	}

	return &Renderer{
		set:    set,
		logger: logger,
	}, nil
}

// Render produces the final configuration text for ctx
func (r *Renderer) Render(body string, ctx Context) (string, error) {
	values := ctx.Values()

	out, err := r.RenderStructured(body, values)
	if err != nil {
		return "", err
	}
	return RenderFlat(out, values), nil
}

// RenderStructured runs the pongo2 pass. Undefined variables render empty.
func (r *Renderer) RenderStructured(body string, values map[string]interface{}) (string, error) {
	if !strings.Contains(body, "{{") && !strings.Contains(body, "{%") && !strings.Contains(body, "{#") {
		return body, nil
	}

	r.parse.Lock()
	tpl, err := r.set.FromString(body)
	r.parse.Unlock()
	if err != nil {
		r.logger.Warn("template parse failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrTemplateSyntax, err)
	}

	out, err := tpl.Execute(pongo2.Context(values))
	if err != nil {
		r.logger.Warn("template execution failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return out, nil
}

// Validate parses body without executing it
func (r *Renderer) Validate(body string) error {
	r.parse.Lock()
	defer r.parse.Unlock()
	if _, err := r.set.FromString(body); err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateSyntax, err)
	}
	return nil
}

// denyLoader refuses every template file lookup
type denyLoader struct{}

func (denyLoader) Abs(base, name string) string {
	return name
}

func (denyLoader) Get(path string) (io.Reader, error) {
	return nil, fmt.Errorf("template loading is disabled: %s", path)
}

// registerBuiltinFilters adds filters useful in phone configuration files.
// Filters are global in pongo2, so existing names are left alone.
func registerBuiltinFilters() {
	filters := map[string]pongo2.FilterFunction{
		// quote wraps a value in double quotes
		"quote": func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			return pongo2.AsValue(fmt.Sprintf("%q", in.String())), nil
		},
		// indent prefixes each non-empty line with param spaces (default 4)
		"indent": func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			spaces := param.Integer()
			if spaces <= 0 {
				spaces = 4
			}
			indent := strings.Repeat(" ", spaces)
			lines := strings.Split(in.String(), "\n")
			for i, line := range lines {
				if line != "" {
					lines[i] = indent + line
				}
			}
			return pongo2.AsValue(strings.Join(lines, "\n")), nil
		},
		// onezero renders truthiness as 1 or 0, as most phones expect
		"onezero": func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			if in.IsTrue() {
				return pongo2.AsValue("1"), nil
			}
			return pongo2.AsValue("0"), nil
		},
		// macsep formats a hardware address with a separator (default ":")
		"macsep": func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			sep := ":"
			if !param.IsNil() && param.String() != "" {
				sep = param.String()
			}
			mac := identity.NormalizeMAC(in.String())
			pairs := make([]string, 0, (len(mac)+1)/2)
			for i := 0; i < len(mac); i += 2 {
				end := i + 2
				if end > len(mac) {
					end = len(mac)
				}
				pairs = append(pairs, mac[i:end])
			}
			return pongo2.AsValue(strings.Join(pairs, sep)), nil
		},
	}

	for name, fn := range filters {
		if pongo2.FilterExists(name) {
			continue
		}
		_ = pongo2.RegisterFilter(name, fn)
	}
}
