package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ParseError reports a malformed policy document. A document with any parse
// error is rejected as a whole.
type ParseError struct {
	// Source names the document, usually a file path
	Source string

	// Line and Column locate the offending node (1-indexed)
	Line   int
	Column int

	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "policy parse error in %q", e.Source)
	switch {
	case e.Line > 0 && e.Column > 0:
		fmt.Fprintf(&b, " at line %d, column %d", e.Line, e.Column)
	case e.Line > 0:
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Parse reads a policy document. An empty document yields an empty table.
func Parse(source string, data []byte) (*Snapshot, error) {
	snap := &Snapshot{
		Table:    NewTable(nil),
		Source:   string(data),
		Version:  Checksum(data),
		LoadedAt: time.Now(),
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		pe := &ParseError{Source: source, Message: "invalid YAML", Cause: err}
		var te *yaml.TypeError
		if !errors.As(err, &te) {
			pe.Line, pe.Column = yamlErrorLine(err)
		}
		return nil, pe
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return snap, nil
	}

	doc := root.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.Tag == "!!null" {
		return snap, nil
	}
	if doc.Kind != yaml.MappingNode {
		return nil, nodeError(source, doc, "document must be a mapping")
	}

	p := parser{source: source}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		var err error
		switch key.Value {
		case "groups":
			var groups []GroupPolicies
			groups, err = p.groups(val)
			if err == nil {
				snap.Table = NewTable(groups)
			}
		case "notifications":
			snap.Recipients, err = p.notifications(val)
		case "messages":
			snap.ExceededMessage, err = p.messages(val)
		default:
			err = nodeError(source, key, fmt.Sprintf("unknown section %q", key.Value))
		}
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// Checksum returns the version string of a document.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

type parser struct {
	source string
}

func (p parser) groups(n *yaml.Node) ([]GroupPolicies, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, nodeError(p.source, n, "groups must be a list")
	}

	seen := make(map[GroupID]bool)
	out := make([]GroupPolicies, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, nodeError(p.source, item, "group entry must be a mapping")
		}

		var g GroupPolicies
		var nameNode *yaml.Node
		for i := 0; i+1 < len(item.Content); i += 2 {
			key, val := item.Content[i], item.Content[i+1]
			if key.Value == "name" {
				nameNode = val
				g.Group = GroupID(strings.TrimSpace(val.Value))
				continue
			}
			kind, ok := ParseKind(key.Value)
			if !ok {
				return nil, nodeError(p.source, key, fmt.Sprintf("unsupported rate limit type: %s", key.Value))
			}
			v, err := p.positiveInt(val)
			if err != nil {
				return nil, err
			}
			g.Policies = append(g.Policies, Policy{Kind: kind, Value: v})
		}

		if nameNode == nil || g.Group == "" {
			return nil, nodeError(p.source, item, "group entry requires a name")
		}
		if seen[g.Group] {
			return nil, nodeError(p.source, nameNode, fmt.Sprintf("duplicate group %q", g.Group))
		}
		seen[g.Group] = true
		out = append(out, g)
	}
	return out, nil
}

// positiveInt parses a limit value. Window values are range-checked later
// during resolution; non-positive limits never make sense and fail here.
func (p parser) positiveInt(n *yaml.Node) (int, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, nodeError(p.source, n, "rate limit value must be a number")
	}
	v, err := strconv.Atoi(strings.TrimSpace(n.Value))
	if err != nil {
		return 0, &ParseError{
			Source:  p.source,
			Line:    n.Line,
			Column:  n.Column,
			Message: fmt.Sprintf("rate limit value %q is not a valid number", n.Value),
			Cause:   err,
		}
	}
	if v < 1 {
		return 0, nodeError(p.source, n, fmt.Sprintf("rate limit value %d must be positive", v))
	}
	return v, nil
}

func (p parser) notifications(n *yaml.Node) ([]GroupID, error) {
	var raw struct {
		Recipients yaml.Node `yaml:"recipients"`
	}
	if err := n.Decode(&raw); err != nil {
		return nil, nodeError(p.source, n, "invalid notifications section")
	}

	r := raw.Recipients
	var names []string
	switch r.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		// Comma separated, as in "Administrators, Release Managers".
		names = strings.Split(r.Value, ",")
	case yaml.SequenceNode:
		for _, c := range r.Content {
			names = append(names, c.Value)
		}
	default:
		return nil, nodeError(p.source, &r, "recipients must be a list or a comma separated string")
	}

	var out []GroupID
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, GroupID(name))
		}
	}
	return out, nil
}

func (p parser) messages(n *yaml.Node) (string, error) {
	var raw struct {
		Exceeded string `yaml:"upload_pack_limit_exceeded"`
	}
	if err := n.Decode(&raw); err != nil {
		return "", nodeError(p.source, n, "invalid messages section")
	}
	return raw.Exceeded, nil
}

func nodeError(source string, n *yaml.Node, msg string) *ParseError {
	return &ParseError{Source: source, Line: n.Line, Column: n.Column, Message: msg}
}

// yamlErrorLine extracts the line from yaml.v3 syntax errors of the form
// "yaml: line 3: ...".
func yamlErrorLine(err error) (int, int) {
	msg := err.Error()
	const prefix = "yaml: line "
	if !strings.HasPrefix(msg, prefix) {
		return 0, 0
	}
	rest := msg[len(prefix):]
	end := strings.IndexByte(rest, ':')
	if end < 0 {
		return 0, 0
	}
	line, convErr := strconv.Atoi(rest[:end])
	if convErr != nil {
		return 0, 0
	}
	return line, 0
}

// Merge picks the primary document when it configures any group, otherwise
// the fallback. The global configuration is the fallback of a project one.
func Merge(primary, fallback *Snapshot) *Snapshot {
	if primary != nil && !primary.Table.Empty() {
		return primary
	}
	if fallback != nil {
		return fallback
	}
	return primary
}
