package rbae_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mickamy/tagvault/broker"
	"github.com/mickamy/tagvault/causes"
	"github.com/mickamy/tagvault/rbae"
	"github.com/mickamy/tagvault/storage"
	"github.com/mickamy/tagvault/ubae"
)

func startServer(t *testing.T, b *broker.Broker) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dict := ubae.New(storage.NewMemory())
	srv := rbae.New(dict, b)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = lis.Close()
	})
	go func() { _ = srv.Serve(ctx, lis) }()
	return lis.Addr().String()
}

func TestAddGetExistsLength(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	cl, err := rbae.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	ok, err := cl.Exists("users/1/profile")
	if err != nil || ok {
		t.Fatalf("Exists before add = %v, %v", ok, err)
	}

	if err := cl.Add("users/1/profile", []byte("alice")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	content, ok, err := cl.Get("users/1/profile")
	if err != nil || !ok || string(content) != "alice" {
		t.Fatalf("Get = %q, %v, %v", content, ok, err)
	}

	n, err := cl.Length("users/1/profile")
	if err != nil || n != 5 {
		t.Fatalf("Length = %d, %v", n, err)
	}

	if err := cl.Add("users/1/profile", []byte("bob")); err != nil {
		t.Fatalf("Add over an existing tag: %v", err)
	}
	content, ok, err = cl.Get("users/1/profile")
	if err != nil || !ok || string(content) != "bob" {
		t.Fatalf("Get after overwrite = %q, %v, %v", content, ok, err)
	}
}

func TestDeleteAndDeleteNoReturn(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)
	cl, err := rbae.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	_ = cl.Add("posts/1/body", []byte("hello"))

	content, ok, err := cl.Delete("posts/1/body")
	if err != nil || !ok || string(content) != "hello" {
		t.Fatalf("Delete = %q, %v, %v", content, ok, err)
	}

	ok, err = cl.Exists("posts/1/body")
	if err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v", ok, err)
	}

	_ = cl.Add("posts/2/body", []byte("world"))
	existed, err := cl.DeleteNoReturn("posts/2/body")
	if err != nil || !existed {
		t.Fatalf("DeleteNoReturn = %v, %v", existed, err)
	}
	existed, err = cl.DeleteNoReturn("posts/2/body")
	if err != nil || existed {
		t.Fatalf("DeleteNoReturn (already gone) = %v, %v", existed, err)
	}
}

func TestGetTags(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)
	cl, err := rbae.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	_ = cl.Add("a", []byte("1"))
	_ = cl.Add("b", []byte("2"))

	tags, err := cl.GetTags()
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("got %d tags, want 2: %v", len(tags), tags)
	}
}

func TestSetContentGetContent(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)
	cl, err := rbae.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	_ = cl.Add("x", []byte("y"))
	raw, err := cl.GetContent()
	if err != nil || len(raw) == 0 {
		t.Fatalf("GetContent = %q, %v", raw, err)
	}

	if err := cl.SetContent(nil); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	ok, err := cl.Exists("x")
	if err != nil || ok {
		t.Fatalf("Exists after SetContent(nil) = %v, %v", ok, err)
	}
}

func TestObserverReceivesWriteNotifications(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	oc, err := rbae.DialObserver(addr)
	if err != nil {
		t.Fatalf("DialObserver: %v", err)
	}
	defer oc.Close()

	cl, err := rbae.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	if err := cl.Add("watched/tag", []byte("v")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	type result struct {
		cause causes.Cause
		tag   string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		cause, tag, err := oc.Next()
		done <- result{cause, tag, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Next: %v", r.err)
		}
		if r.cause != causes.AddEntry || r.tag != "watched/tag" {
			t.Fatalf("got %s %q, want %s %q", r.cause, r.tag, causes.AddEntry, "watched/tag")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observer notification")
	}
}

func TestPublishesToBroker(t *testing.T) {
	t.Parallel()
	b := broker.New(4)
	addr := startServer(t, b)
	sub, unsub := b.Subscribe()
	defer unsub()

	cl, err := rbae.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	if err := cl.Add("broker/tag", []byte("v")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Kind != broker.EventAdd || ev.Tag != "broker/tag" {
			t.Fatalf("got %+v, want Kind=EventAdd Tag=broker/tag", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broker event")
	}
}
