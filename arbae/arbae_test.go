package arbae_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mickamy/tagvault/arbae"
	"github.com/mickamy/tagvault/broker"
	"github.com/mickamy/tagvault/causes"
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
	srv := arbae.New(dict, b)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = lis.Close()
	})
	go func() { _ = srv.Serve(ctx, lis) }()
	return lis.Addr().String()
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	cl, err := arbae.Register(addr, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	cl.Close()

	cl2, err := arbae.Login(addr, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer cl2.Close()
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	cl, err := arbae.Register(addr, "bob", "correct")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	cl.Close()

	if _, err := arbae.Login(addr, "bob", "wrong"); err == nil {
		t.Fatal("expected Login with a wrong password to fail")
	}
}

func TestRegisterNameTaken(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	cl, err := arbae.Register(addr, "carol", "pw1")
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}
	cl.Close()

	if _, err := arbae.Register(addr, "carol", "pw2"); err == nil {
		t.Fatal("expected Register with a taken name and different password to fail")
	}
}

func TestPerUserNamespaceIsolation(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	alice, err := arbae.Register(addr, "alice2", "pw")
	if err != nil {
		t.Fatalf("Register alice2: %v", err)
	}
	defer alice.Close()
	bob, err := arbae.Register(addr, "bob2", "pw")
	if err != nil {
		t.Fatalf("Register bob2: %v", err)
	}
	defer bob.Close()

	if err := alice.Add("profile", []byte("alice's data")); err != nil {
		t.Fatalf("alice Add: %v", err)
	}

	ok, err := bob.Exists("profile")
	if err != nil || ok {
		t.Fatalf("bob should not see alice's \"profile\" tag: ok=%v err=%v", ok, err)
	}

	if err := bob.Add("profile", []byte("bob's data")); err != nil {
		t.Fatalf("bob Add (same user-visible tag name): %v", err)
	}

	content, ok, err := alice.Get("profile")
	if err != nil || !ok || string(content) != "alice's data" {
		t.Fatalf("alice Get = %q, %v, %v", content, ok, err)
	}
	content, ok, err = bob.Get("profile")
	if err != nil || !ok || string(content) != "bob's data" {
		t.Fatalf("bob Get = %q, %v, %v", content, ok, err)
	}
}

func TestGetTagsScopedToUser(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	alice, err := arbae.Register(addr, "alice3", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer alice.Close()
	bob, err := arbae.Register(addr, "bob3", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer bob.Close()

	_ = alice.Add("a", []byte("1"))
	_ = alice.Add("b", []byte("2"))
	_ = bob.Add("c", []byte("3"))

	tags, err := alice.GetTags()
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("got %d tags, want 2: %v", len(tags), tags)
	}
}

func TestUnregisterDeletesAllUserTags(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	alice, err := arbae.Register(addr, "alice4", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_ = alice.Add("a", []byte("1"))
	_ = alice.Add("b", []byte("2"))

	if err := alice.Unregister(); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	alice.Close()

	if _, err := arbae.Login(addr, "alice4", "pw"); err == nil {
		t.Fatal("expected Login to fail after Unregister")
	}
}

func TestObserverScopedToOwnUser(t *testing.T) {
	t.Parallel()
	addr := startServer(t, nil)

	alice, err := arbae.Register(addr, "alice5", "pw")
	if err != nil {
		t.Fatalf("Register alice: %v", err)
	}
	defer alice.Close()
	bob, err := arbae.Register(addr, "bob5", "pw")
	if err != nil {
		t.Fatalf("Register bob: %v", err)
	}
	defer bob.Close()

	aliceObs, err := arbae.DialObserver(addr, "alice5", "pw")
	if err != nil {
		t.Fatalf("DialObserver: %v", err)
	}
	defer aliceObs.Close()

	if err := bob.Add("other", []byte("x")); err != nil {
		t.Fatalf("bob Add: %v", err)
	}
	if err := alice.Add("mine", []byte("y")); err != nil {
		t.Fatalf("alice Add: %v", err)
	}

	type result struct {
		cause causes.Cause
		tag   string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		cause, tag, err := aliceObs.Next()
		done <- result{cause, tag, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Next: %v", r.err)
		}
		if r.cause != causes.AddEntry || r.tag != "mine" {
			t.Fatalf("got %s %q, want %s %q (bob's write must not be delivered)", r.cause, r.tag, causes.AddEntry, "mine")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observer notification")
	}
}
