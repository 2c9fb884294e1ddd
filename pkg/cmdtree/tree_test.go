package cmdtree

import (
	"bytes"
	"slices"
	"strings"
	"testing"
)

func names(cs []Candidate) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func TestComplete(t *testing.T) {
	links := []string{"ge0", "lan0", "lan1"}
	tests := []struct {
		words   []string
		partial string
		want    []string
	}{
		{nil, "", []string{"exit", "help", "quit", "show"}},
		{nil, "sh", []string{"show"}},
		{[]string{"show"}, "r", []string{"radvd", "routes"}},
		{[]string{"show"}, "a", []string{"addresses", "all"}},
		{[]string{"show", "events"}, "lan", []string{"lan0", "lan1"}},
		{[]string{"show", "links"}, "", nil},
		{[]string{"bogus"}, "", nil},
	}
	for _, tt := range tests {
		got := names(Complete(OperationalTree, tt.words, tt.partial, links))
		if !slices.Equal(got, tt.want) {
			t.Errorf("Complete(%q, %q) = %q, want %q", tt.words, tt.partial, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve(OperationalTree, []string{"sh", "tun"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"show", "tunnels"}) {
		t.Errorf("got %q", got)
	}

	got, err = Resolve(OperationalTree, []string{"show", "events", "ge0"})
	if err != nil || !slices.Equal(got, []string{"show", "events", "ge0"}) {
		t.Errorf("got %q, %v", got, err)
	}

	if _, err := Resolve(OperationalTree, []string{"show", "r"}); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("err = %v, want ambiguous", err)
	}
	if _, err := Resolve(OperationalTree, []string{"reboot"}); err == nil {
		t.Error("expected unknown command error")
	}
}

func TestSectionsInTree(t *testing.T) {
	show := OperationalTree["show"].Children
	for _, s := range Sections {
		if _, ok := show[s]; !ok {
			t.Errorf("section %q missing from show tree", s)
		}
	}
}

func TestWriteHelp(t *testing.T) {
	var buf bytes.Buffer
	WriteHelp(&buf, HelpCandidates(OperationalTree["show"].Children))
	out := buf.String()
	if !strings.HasPrefix(out, "Possible completions:\n") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "  tunnels") || !strings.Contains(out, "Established tunnels") {
		t.Errorf("missing tunnels line in %q", out)
	}
	if strings.Index(out, "addresses") > strings.Index(out, "tunnels") {
		t.Error("candidates not sorted")
	}
}

func TestCommonPrefix(t *testing.T) {
	if got := CommonPrefix([]string{"radvd", "routes"}); got != "r" {
		t.Errorf("got %q", got)
	}
	if got := CommonPrefix([]string{"links", "tunnels"}); got != "" {
		t.Errorf("got %q", got)
	}
	if got := CommonPrefix(nil); got != "" {
		t.Errorf("got %q", got)
	}
}
