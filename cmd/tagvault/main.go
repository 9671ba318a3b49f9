package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mickamy/tagvault/arbae"
	"github.com/mickamy/tagvault/rbae"
	"github.com/mickamy/tagvault/tui"
)

func main() {
	fs := flag.NewFlagSet("tagvault", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "tagvault — interactive browser for a tagvaultd server\n\nUsage:\n  tagvault [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	mode := fs.String("mode", "rbae", "protocol: rbae or arbae")
	addr := fs.String("addr", "127.0.0.1:59183", "server address")
	user := fs.String("user", "", "user name (arbae only)")
	password := fs.String("password", "", "password (arbae only)")
	register := fs.Bool("register", false, "register the user name instead of logging in (arbae only)")

	_ = fs.Parse(os.Args[1:])

	if err := run(*mode, *addr, *user, *password, *register); err != nil {
		log.Fatal(err)
	}
}

func run(mode, addr, user, password string, register bool) error {
	ctx := context.Background()

	var store tui.Store
	var watcher tui.Watcher

	switch mode {
	case "arbae":
		if user == "" {
			return fmt.Errorf("-user is required in arbae mode")
		}
		var c *arbae.Client
		var err error
		if register {
			c, err = arbae.Register(addr, user, password)
		} else {
			c, err = arbae.Login(addr, user, password)
		}
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer c.Close()
		store = c

		oc, err := arbae.DialObserver(addr, user, password)
		if err != nil {
			log.Printf("watch disabled: %v", err)
		} else {
			defer oc.Close()
			watcher = tui.NewArbaeWatcher(oc)
		}

	case "rbae":
		c, err := rbae.Dial(addr)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer c.Close()
		store = c

		oc, err := rbae.DialObserver(addr)
		if err != nil {
			log.Printf("watch disabled: %v", err)
		} else {
			defer oc.Close()
			watcher = tui.NewRBAEWatcher(oc)
		}

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	p := tea.NewProgram(tui.New(ctx, store, watcher))
	_, err := p.Run()
	return err
}
