// homegwctl is the remote CLI client for homegwd.
//
// It reads the daemon's status over gRPC and renders it as tables,
// either interactively or for a single command given with -c.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/psaab/homegw/pkg/config"
	"github.com/psaab/homegw/pkg/rpc"
)

func main() {
	addr := flag.String("addr", config.DefaultGRPCAddr, "homegwd gRPC address")
	command := flag.String("c", "", "run a single command and exit")
	timeout := flag.Duration("timeout", 5*time.Second, "connect and call timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	conn, err := rpc.Dial(ctx, *addr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "homegwctl: cannot reach homegwd at %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &ctl{client: rpc.NewStatusClient(conn), out: os.Stdout, timeout: *timeout}

	if *command != "" {
		if err := c.dispatch(*command); err != nil && err != errExit {
			fmt.Fprintf(os.Stderr, "homegwctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt(),
		HistoryFile:     "/tmp/homegwctl_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &completer{ctl: c},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "homegwctl: readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	c.out = rl.Stdout()

	fmt.Fprintf(c.out, "homegwctl connected to %s\n", *addr)
	fmt.Fprintln(c.out, "Type '?' for help")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.dispatch(line); err != nil {
			if err == errExit {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func prompt() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "homegw"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = "remote"
	}
	return fmt.Sprintf("%s@%s> ", username, hostname)
}
