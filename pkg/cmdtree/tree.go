// Package cmdtree defines the homegwctl command tree.
//
// The same tree drives tab completion, ? help and command resolution,
// so a command added here shows up everywhere.
package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Node defines a completion tree node with description, children, and
// optional dynamic values.
type Node struct {
	Desc     string
	Children map[string]*Node
	// Dynamic marks a node whose argument is a link name.
	Dynamic bool
}

// Candidate holds a command name and its description for display.
type Candidate struct {
	Name string
	Desc string
}

// Sections are the status sections a "show" command can name.
var Sections = []string{"links", "addresses", "routes", "prefixes", "radvd", "tunnels", "events"}

// OperationalTree is the homegwctl command tree.
var OperationalTree = map[string]*Node{
	"show": {Desc: "Show controller state", Children: map[string]*Node{
		"links":     {Desc: "Tracked links and their roles"},
		"addresses": {Desc: "Kernel-confirmed IPv6 addresses"},
		"routes":    {Desc: "Kernel-confirmed IPv6 routes"},
		"prefixes":  {Desc: "Delegated prefixes per uplink"},
		"radvd":     {Desc: "RA daemons per downlink"},
		"tunnels":   {Desc: "Established tunnels"},
		"events":    {Desc: "Recent controller events", Dynamic: true},
		"all":       {Desc: "Everything above"},
	}},
	"help": {Desc: "Show available commands"},
	"exit": {Desc: "Leave the shell"},
	"quit": {Desc: "Leave the shell"},
}

// HelpCandidates returns the sorted children of tree with descriptions.
func HelpCandidates(tree map[string]*Node) []Candidate {
	out := make([]Candidate, 0, len(tree))
	for name, node := range tree {
		out = append(out, Candidate{Name: name, Desc: node.Desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Complete returns the candidates for partial after the command words.
// links supplies the values of dynamic nodes.
func Complete(tree map[string]*Node, words []string, partial string, links []string) []Candidate {
	current := tree
	var currentNode *Node
	for _, w := range words {
		node, ok := current[w]
		if !ok {
			return nil
		}
		currentNode = node
		current = node.Children
	}

	var candidates []Candidate
	for name, node := range current {
		if strings.HasPrefix(name, partial) {
			candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
		}
	}
	if currentNode != nil && currentNode.Dynamic {
		for _, name := range links {
			if strings.HasPrefix(name, partial) {
				candidates = append(candidates, Candidate{Name: name, Desc: "(link)"})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates
}

// Resolve expands unambiguous prefixes of the command words, so
// "sh tun" becomes "show tunnels". Words past the tree are kept as is.
func Resolve(tree map[string]*Node, words []string) ([]string, error) {
	out := make([]string, 0, len(words))
	current := tree
	for i, w := range words {
		if current == nil {
			return append(out, words[i:]...), nil
		}
		if node, ok := current[w]; ok {
			out = append(out, w)
			current = node.Children
			continue
		}
		var matches []string
		for name := range current {
			if strings.HasPrefix(name, w) {
				matches = append(matches, name)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("unknown command: %s", w)
		case 1:
			out = append(out, matches[0])
			current = current[matches[0]].Children
		default:
			sort.Strings(matches)
			return nil, fmt.Errorf("ambiguous command %q: %s", w, strings.Join(matches, ", "))
		}
	}
	return out, nil
}

// WriteHelp prints aligned completion candidates to w in a single write.
func WriteHelp(w io.Writer, candidates []Candidate) {
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// CommonPrefix returns the longest shared prefix among the given strings.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}
