package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/homegw/pkg/cmdtree"
	"github.com/psaab/homegw/pkg/controller"
	"github.com/psaab/homegw/pkg/logging"
)

var errExit = errors.New("exit")

type statusGetter interface {
	GetStatus(ctx context.Context, section string) (*structpb.Struct, error)
}

// view mirrors the daemon's status document.
type view struct {
	controller.Status
	Events []logging.EventRecord `json:"events"`
}

type ctl struct {
	client  statusGetter
	out     io.Writer
	timeout time.Duration
}

func (c *ctl) dispatch(line string) error {
	if strings.HasSuffix(line, "?") {
		c.showContextHelp(strings.TrimSuffix(line, "?"))
		return nil
	}

	words, err := cmdtree.Resolve(cmdtree.OperationalTree, strings.Fields(line))
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}

	switch words[0] {
	case "exit", "quit":
		return errExit
	case "help":
		cmdtree.WriteHelp(c.out, cmdtree.HelpCandidates(cmdtree.OperationalTree))
		return nil
	case "show":
		return c.show(words[1:])
	}
	return fmt.Errorf("unknown command: %s", words[0])
}

func (c *ctl) show(args []string) error {
	if len(args) == 0 {
		cmdtree.WriteHelp(c.out, cmdtree.HelpCandidates(cmdtree.OperationalTree["show"].Children))
		return nil
	}
	section := args[0]
	if section != "events" && len(args) > 1 {
		return fmt.Errorf("unexpected argument: %s", args[1])
	}
	if section == "all" {
		section = ""
	}

	v, err := c.fetch(section)
	if err != nil {
		return err
	}

	switch args[0] {
	case "links":
		showLinks(c.out, v.Links)
	case "addresses":
		showAddresses(c.out, v.Addresses)
	case "routes":
		showRoutes(c.out, v.Routes)
	case "prefixes":
		showPrefixes(c.out, v.Prefixes)
	case "radvd":
		showRadvd(c.out, v.Radvd)
	case "tunnels":
		showTunnels(c.out, v.Tunnels)
	case "events":
		link := ""
		if len(args) > 1 {
			link = args[1]
		}
		showEvents(c.out, v.Events, link)
	case "all":
		showAll(c.out, v)
	}
	return nil
}

// fetch reads section (or everything when empty) from the daemon.
func (c *ctl) fetch(section string) (*view, error) {
	timeout := c.timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	st, err := c.client.GetStatus(ctx, section)
	if err != nil {
		return nil, err
	}
	data, err := protojson.Marshal(st)
	if err != nil {
		return nil, err
	}
	v := new(view)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return v, nil
}

// linksFor returns link names when the words end at "show events".
func (c *ctl) linksFor(words []string) []string {
	if len(words) != 2 || words[0] != "show" || words[1] != "events" {
		return nil
	}
	v, err := c.fetch("links")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(v.Links))
	for _, l := range v.Links {
		names = append(names, l.Name)
	}
	return names
}

func (c *ctl) showContextHelp(prefix string) {
	words := strings.Fields(prefix)
	partial := ""
	if len(words) > 0 && !strings.HasSuffix(prefix, " ") {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	resolved, err := cmdtree.Resolve(cmdtree.OperationalTree, words)
	if err != nil {
		fmt.Fprintf(c.out, "  %v\n", err)
		return
	}
	cands := cmdtree.Complete(cmdtree.OperationalTree, resolved, partial, c.linksFor(resolved))
	if len(cands) == 0 {
		fmt.Fprintln(c.out, "  (no help available)")
		return
	}
	cmdtree.WriteHelp(c.out, cands)
}

type completer struct {
	ctl *ctl
}

// Do implements readline.AutoCompleter.
func (rc *completer) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	words := strings.Fields(text)
	trailingSpace := len(text) > 0 && text[len(text)-1] == ' '
	var partial string
	if !trailingSpace && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}

	resolved, err := cmdtree.Resolve(cmdtree.OperationalTree, words)
	if err != nil {
		return nil, 0
	}
	cands := cmdtree.Complete(cmdtree.OperationalTree, resolved, partial, rc.ctl.linksFor(resolved))

	var result [][]rune
	for _, c := range cands {
		result = append(result, []rune(c.Name[len(partial):]+" "))
	}
	return result, len(partial)
}
