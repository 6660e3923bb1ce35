package render

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"text/template"
	"text/template/parse"
)

// Renderer renders inline template strings with strict-undefined semantics:
// referencing a variable missing from the context is an error, never a
// silent blank. Compiled templates are cached by source string, so rendering
// the same subject/body for every recipient in a run compiles once.
//
// Autoescaping is deliberately off: template authors supply complete HTML
// bodies, and context values are plain strings from the recipient rows.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

func New() *Renderer {
	return &Renderer{cache: make(map[string]*template.Template)}
}

func (r *Renderer) compile(src string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[src]; ok {
		return t, nil
	}
	t, err := template.New("inline").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, err
	}
	r.cache[src] = t
	return t, nil
}

// Render substitutes context into src. An empty source renders to "".
func (r *Renderer) Render(src string, context map[string]any) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := r.compile(src)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("template render: %w", err)
	}
	return buf.String(), nil
}

// Validate statically enumerates every variable src references and returns
// the ones absent from context, sorted, without rendering anything.
func (r *Renderer) Validate(src string, context map[string]any) ([]string, error) {
	if src == "" {
		return nil, nil
	}
	t, err := r.compile(src)
	if err != nil {
		return nil, fmt.Errorf("template parse: %w", err)
	}

	vars := make(map[string]struct{})
	collectFields(t.Tree.Root, vars)

	var missing []string
	for name := range vars {
		if _, ok := context[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// collectFields walks the parse tree gathering the first identifier of every
// field reference ({{ .name }}, {{ .name.sub }} both record "name").
func collectFields(node parse.Node, out map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			collectFields(child, out)
		}
	case *parse.ActionNode:
		collectPipe(n.Pipe, out)
	case *parse.IfNode:
		collectPipe(n.Pipe, out)
		collectFields(n.List, out)
		collectFields(n.ElseList, out)
	case *parse.RangeNode:
		collectPipe(n.Pipe, out)
		collectFields(n.List, out)
		collectFields(n.ElseList, out)
	case *parse.WithNode:
		collectPipe(n.Pipe, out)
		collectFields(n.List, out)
		collectFields(n.ElseList, out)
	case *parse.TemplateNode:
		collectPipe(n.Pipe, out)
	}
}

func collectPipe(pipe *parse.PipeNode, out map[string]struct{}) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					out[a.Ident[0]] = struct{}{}
				}
			case *parse.ChainNode:
				if f, ok := a.Node.(*parse.FieldNode); ok && len(f.Ident) > 0 {
					out[f.Ident[0]] = struct{}{}
				}
			case *parse.PipeNode:
				collectPipe(a, out)
			}
		}
	}
}
