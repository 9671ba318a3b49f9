package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mickamy/tagvault/arbae"
	"github.com/mickamy/tagvault/broker"
	"github.com/mickamy/tagvault/detect"
	"github.com/mickamy/tagvault/rbae"
	"github.com/mickamy/tagvault/storage"
	"github.com/mickamy/tagvault/ubae"
	"github.com/mickamy/tagvault/web"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("tagvaultd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "tagvaultd — tag-addressable byte store daemon\n\nUsage:\n  tagvaultd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	mode := fs.String("mode", "rbae", "protocol: rbae (unauthenticated) or arbae (authenticated, multi-tenant)")
	listen := fs.String("listen", ":59183", "client listen address")
	data := fs.String("data", "", "backend file path (empty = in-memory, lost on restart)")
	httpAddr := fs.String("http", "", "HTTP dashboard listen address (e.g. :8080, empty disables it)")
	hotThreshold := fs.Int("hot-threshold", 0, "hot-tag detection threshold (0 disables)")
	hotWindow := fs.Duration("hot-window", time.Second, "hot-tag detection time window")
	hotCooldown := fs.Duration("hot-cooldown", 10*time.Second, "hot-tag alert cooldown per tag")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("tagvaultd %s\n", version)
		return
	}

	if *mode != "rbae" && *mode != "arbae" {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(*mode, *listen, *data, *httpAddr, *hotThreshold, *hotWindow, *hotCooldown); err != nil {
		log.Fatal(err)
	}
}

func run(mode, listen, data, httpAddr string, hotThreshold int, hotWindow, hotCooldown time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backend storage.Backend
	if data != "" {
		f, err := storage.OpenFile(data)
		if err != nil {
			return fmt.Errorf("open backend %s: %w", data, err)
		}
		defer func() { _ = f.Close() }()
		backend = f
		log.Printf("backend: file %s", data)
	} else {
		backend = storage.NewMemory()
		log.Printf("backend: in-memory (not persisted)")
	}
	dict := ubae.New(backend)

	b := broker.New(256)

	var det *detect.Detector
	if hotThreshold > 0 {
		det = detect.New(hotThreshold, hotWindow, hotCooldown)
		log.Printf("hot-tag detection enabled (threshold=%d, window=%s, cooldown=%s)",
			hotThreshold, hotWindow, hotCooldown)
	}

	var lc net.ListenConfig

	var tags web.TagLister
	var protoSrv interface {
		Serve(ctx context.Context, lis net.Listener) error
	}
	switch mode {
	case "arbae":
		srv := arbae.New(dict, b).WithDetector(det)
		tags, protoSrv = srv, srv
	default:
		srv := rbae.New(dict, b).WithDetector(det)
		tags, protoSrv = srv, srv
	}

	if httpAddr != "" {
		httpLis, err := lc.Listen(ctx, "tcp", httpAddr)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", httpAddr, err)
		}
		webSrv := web.New(b, tags)
		go func() {
			log.Printf("HTTP dashboard listening on %s", httpAddr)
			if err := webSrv.Serve(httpLis); err != nil {
				log.Printf("http serve: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = webSrv.Shutdown(shutdownCtx)
		}()
	}

	lis, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}

	log.Printf("%s server listening on %s", mode, listen)
	return protoSrv.Serve(ctx, lis)
}
