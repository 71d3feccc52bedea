// Package prompt renders the inference prompt from a fixed instruction
// template, the per-org methodology document and the live session
// context.
package prompt

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// nowToken resolves to the render-time timestamp.
const nowToken = "now"

// node is one parsed template fragment.
type node interface {
	render(sb *strings.Builder, data map[string]interface{}, now time.Time)
}

type textNode string

func (n textNode) render(sb *strings.Builder, _ map[string]interface{}, _ time.Time) {
	sb.WriteString(string(n))
}

type varNode struct {
	path string
	raw  string // original token, emitted verbatim when unresolved
}

func (n varNode) render(sb *strings.Builder, data map[string]interface{}, now time.Time) {
	if n.path == nowToken {
		sb.WriteString(now.Format(time.RFC3339))
		return
	}
	value, ok := lookup(data, n.path)
	if !ok {
		// Unresolved variables stay literal so a missing optional field
		// never aborts prompt construction.
		sb.WriteString(n.raw)
		return
	}
	sb.WriteString(stringify(value))
}

type ifNode struct {
	path     string
	then     []node
	elseWise []node
}

func (n ifNode) render(sb *strings.Builder, data map[string]interface{}, now time.Time) {
	branch := n.elseWise
	if value, ok := lookup(data, n.path); ok && truthy(value) {
		branch = n.then
	}
	for _, child := range branch {
		child.render(sb, data, now)
	}
}

// Template is a parsed template ready for repeated rendering.
type Template struct {
	nodes []node
}

// Render substitutes data into the template.
func (t *Template) Render(data map[string]interface{}, now time.Time) string {
	var sb strings.Builder
	for _, n := range t.nodes {
		n.render(&sb, data, now)
	}
	return sb.String()
}

// Engine parses templates and caches the parse results, since the fixed
// instruction template and per-org documents repeat across batches.
type Engine struct {
	cache *lru.Cache
}

// NewEngine creates a template engine with a bounded parse cache.
func NewEngine(cacheSize int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create template cache: %w", err)
	}
	return &Engine{cache: cache}, nil
}

// Parse compiles a template, reusing a cached parse when available.
func (e *Engine) Parse(raw string) (*Template, error) {
	if cached, ok := e.cache.Get(raw); ok {
		return cached.(*Template), nil
	}

	parser := &parser{input: raw}
	nodes, err := parser.parseUntil("")
	if err != nil {
		return nil, err
	}
	tmpl := &Template{nodes: nodes}
	e.cache.Add(raw, tmpl)
	return tmpl, nil
}

// Render is a convenience for parse-and-render in one call.
func (e *Engine) Render(raw string, data map[string]interface{}, now time.Time) (string, error) {
	tmpl, err := e.Parse(raw)
	if err != nil {
		return "", err
	}
	return tmpl.Render(data, now), nil
}

type parser struct {
	input string
	pos   int
}

// parseUntil consumes nodes until the named closing tag ("else" or "/if")
// or end of input. It returns on the tag without consuming it when the
// tag is "" (top level consumes everything).
func (p *parser) parseUntil(stop string) ([]node, error) {
	var nodes []node

	for p.pos < len(p.input) {
		open := strings.Index(p.input[p.pos:], "{{")
		if open < 0 {
			nodes = append(nodes, textNode(p.input[p.pos:]))
			p.pos = len(p.input)
			break
		}
		if open > 0 {
			nodes = append(nodes, textNode(p.input[p.pos:p.pos+open]))
			p.pos += open
		}

		closing := strings.Index(p.input[p.pos:], "}}")
		if closing < 0 {
			// Dangling braces render literally.
			nodes = append(nodes, textNode(p.input[p.pos:]))
			p.pos = len(p.input)
			break
		}

		raw := p.input[p.pos : p.pos+closing+2]
		inner := strings.TrimSpace(p.input[p.pos+2 : p.pos+closing])
		p.pos += closing + 2

		switch {
		case inner == "else" || inner == "/if":
			if stop == "" {
				// Orphan control tag: leave it literal.
				nodes = append(nodes, textNode(raw))
				continue
			}
			p.pos -= len(raw) // hand the tag back to the caller
			return nodes, nil

		case strings.HasPrefix(inner, "#if "):
			path := strings.TrimSpace(strings.TrimPrefix(inner, "#if "))
			ifN, err := p.parseIf(path)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, ifN)

		default:
			nodes = append(nodes, varNode{path: inner, raw: raw})
		}
	}

	if stop != "" {
		return nil, fmt.Errorf("unterminated {{#if}} block")
	}
	return nodes, nil
}

func (p *parser) parseIf(path string) (node, error) {
	then, err := p.parseUntil("/if")
	if err != nil {
		return nil, err
	}

	tag, err := p.consumeTag()
	if err != nil {
		return nil, err
	}

	var elseWise []node
	if tag == "else" {
		if elseWise, err = p.parseUntil("/if"); err != nil {
			return nil, err
		}
		if tag, err = p.consumeTag(); err != nil {
			return nil, err
		}
	}
	if tag != "/if" {
		return nil, fmt.Errorf("expected {{/if}}, found {{%s}}", tag)
	}

	return ifNode{path: path, then: then, elseWise: elseWise}, nil
}

func (p *parser) consumeTag() (string, error) {
	if !strings.HasPrefix(p.input[p.pos:], "{{") {
		return "", fmt.Errorf("unterminated {{#if}} block")
	}
	closing := strings.Index(p.input[p.pos:], "}}")
	if closing < 0 {
		return "", fmt.Errorf("unterminated tag in {{#if}} block")
	}
	inner := strings.TrimSpace(p.input[p.pos+2 : p.pos+closing])
	p.pos += closing + 2
	return inner, nil
}

// lookup resolves a dotted path into nested maps.
func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	case []string:
		return len(v) > 0
	default:
		return true
	}
}
