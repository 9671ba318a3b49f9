// Package rbae implements the unauthenticated remote byte-array-entry
// protocol: a single shared ubae.Dict exposed over TCP with no per-tenant
// namespacing and no login handshake (spec.md §4.4 "RBAE"). Grounded on
// original_source's rbae_server.rs cause-handler-table shape, adapted to
// Go's goroutine-per-connection style used by proxy/postgres/conn.go and
// proxy/mysql/conn.go.
package rbae

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mickamy/tagvault/broker"
	"github.com/mickamy/tagvault/causes"
	"github.com/mickamy/tagvault/detect"
	"github.com/mickamy/tagvault/ubae"
	"github.com/mickamy/tagvault/wire"
)

// Server serves the RBAE protocol over any net.Listener, backed by a
// single shared ubae.Dict protected by one mutex — concurrent requests are
// serialized at the dictionary, exactly as original_source's
// RbaeServer<O,S> does via its Arc<Mutex<Ubae<...>>> (spec.md §9 OQ3: the
// mutex is held for the duration of a streamed reply too).
type Server struct {
	mu     sync.Mutex
	dict   *ubae.Dict
	broker *broker.Broker
	det    *detect.Detector

	obsMu     sync.Mutex
	observers []*observer
}

// New constructs a Server over dict, publishing every write to b (which
// may be nil to disable broadcast entirely).
func New(dict *ubae.Dict, b *broker.Broker) *Server {
	return &Server{dict: dict, broker: b}
}

// WithDetector attaches a hot-tag detector: every tag write is recorded
// against it, and a matched alert is logged. Passing nil disables
// detection (the default).
func (s *Server) WithDetector(d *detect.Detector) *Server {
	s.det = d
	return s
}

// GetTags returns every tag currently stored, serialized against concurrent
// writes by the same mutex the request-handling path uses. Safe to call
// from another goroutine (e.g. the web dashboard) while the server is
// serving connections.
func (s *Server) GetTags() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dict.GetTags()
}

// Serve accepts connections on lis until ctx is cancelled or lis is
// closed. Each connection is handled in its own goroutine.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rbae: accept: %w", err)
		}
		go s.handleConnection(wire.New(conn))
	}
}

func (s *Server) handleConnection(c *wire.Conn) {
	initial, err := c.ReadFixedI32()
	if err != nil {
		_ = c.Close()
		return
	}

	switch causes.Cause(initial) {
	case causes.InitialObserver:
		s.registerObserver(c)
	case causes.InitialClient:
		defer c.Close()
		s.serveClient(c)
	default:
		log.Printf("rbae: unrecognised initial connection cause: %d", initial)
		_ = c.Close()
	}
}

func (s *Server) serveClient(c *wire.Conn) {
	for {
		cause, err := c.ReadFixedI32()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("rbae: read cause: %v", err)
			}
			return
		}
		if err := s.dispatch(c, causes.Cause(cause)); err != nil {
			log.Printf("rbae: handling %s: %v", causes.Cause(cause), err)
		}
	}
}

func (s *Server) dispatch(c *wire.Conn, cause causes.Cause) error {
	switch cause {
	case causes.AddEntry:
		return s.handleAddEntry(c)
	case causes.AddEntryNoCheck:
		return s.handleAddEntryNoCheck(c)
	case causes.GetEntry:
		return s.handleGetEntry(c)
	case causes.DeleteEntry:
		return s.handleDeleteEntry(c)
	case causes.DeleteNoReturn:
		return s.handleDeleteNoReturn(c)
	case causes.Exists:
		return s.handleExists(c)
	case causes.GetTags:
		return s.handleGetTags(c)
	case causes.Length:
		return s.handleLength(c)
	case causes.SetContent:
		return s.handleSetContent(c)
	case causes.GetContent:
		return s.handleGetContent(c)
	default:
		return fmt.Errorf("unknown cause received: %d", int32(cause))
	}
}

func (s *Server) handleAddEntry(c *wire.Conn) error {
	tagBytes, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read tag: %w", err)
	}
	entry, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}
	tag := string(tagBytes)

	s.mu.Lock()
	addErr := s.dict.Add(tag, entry)
	s.mu.Unlock()

	if addErr != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if err := c.WriteFixedU8(uint8(causes.NoError)); err != nil {
		return err
	}
	s.publish(broker.EventAdd, tag, int64(len(entry)), "")
	s.notifyObservers(causes.AddEntry, tag)
	return nil
}

func (s *Server) handleAddEntryNoCheck(c *wire.Conn) error {
	tagBytes, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read tag: %w", err)
	}
	stream, n, absent, err := c.ReadVariableStream()
	if err != nil {
		return fmt.Errorf("read entry stream: %w", err)
	}
	if absent {
		return fmt.Errorf("entry stream unexpectedly absent")
	}
	tag := string(tagBytes)

	s.mu.Lock()
	addErr := s.dict.AddFromStreamNoCheck(tag, stream, n)
	s.mu.Unlock()

	if addErr != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if err := c.WriteFixedU8(uint8(causes.NoError)); err != nil {
		return err
	}
	s.publish(broker.EventAddNoCheck, tag, n, "")
	s.notifyObservers(causes.AddEntryNoCheck, tag)
	return nil
}

func (s *Server) handleGetEntry(c *wire.Conn) error {
	tagBytes, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read tag: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stream, n, ok, err := s.dict.GetStream(string(tagBytes))
	if err != nil {
		_ = c.WriteFixedI64(wire.AbsentLength)
		return fmt.Errorf("get entry: %w", err)
	}
	if !ok {
		return c.WriteFixedI64(wire.AbsentLength)
	}
	return c.WriteVariableStream(stream, n)
}

func (s *Server) handleDeleteEntry(c *wire.Conn) error {
	tagBytes, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read tag: %w", err)
	}
	tag := string(tagBytes)

	s.mu.Lock()
	deleted, ok, err := s.dict.Delete(tag)
	s.mu.Unlock()

	if err != nil {
		_ = c.WriteFixedI64(wire.AbsentLength)
		return fmt.Errorf("delete entry: %w", err)
	}
	if !ok {
		return c.WriteFixedI64(wire.AbsentLength)
	}
	if err := c.WriteVariable(deleted); err != nil {
		return err
	}
	s.publish(broker.EventDelete, tag, int64(len(deleted)), "")
	s.notifyObservers(causes.DeleteEntry, tag)
	return nil
}

func (s *Server) handleDeleteNoReturn(c *wire.Conn) error {
	tagBytes, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read tag: %w", err)
	}
	tag := string(tagBytes)

	s.mu.Lock()
	ok, err := s.dict.DeleteNoReturn(tag)
	s.mu.Unlock()

	if err != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if !ok {
		return c.WriteFixedU8(uint8(causes.False))
	}
	if err := c.WriteFixedU8(uint8(causes.True)); err != nil {
		return err
	}
	s.publish(broker.EventDeleteNoReturn, tag, 0, "")
	s.notifyObservers(causes.DeleteNoReturn, tag)
	return nil
}

func (s *Server) handleExists(c *wire.Conn) error {
	tagBytes, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read tag: %w", err)
	}

	s.mu.Lock()
	exists, err := s.dict.Exists(string(tagBytes))
	s.mu.Unlock()

	if err != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if exists {
		return c.WriteFixedU8(uint8(causes.True))
	}
	return c.WriteFixedU8(uint8(causes.False))
}

func (s *Server) handleGetTags(c *wire.Conn) error {
	s.mu.Lock()
	tags, err := s.dict.GetTags()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("get tags: %w", err)
	}

	encoded, err := encodeTagList(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	return c.WriteVariable(encoded)
}

func (s *Server) handleLength(c *wire.Conn) error {
	tagBytes, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read tag: %w", err)
	}

	s.mu.Lock()
	length, err := s.dict.Length(string(tagBytes))
	s.mu.Unlock()

	if err != nil {
		return c.WriteFixedI64(causes.ErrorI64)
	}
	return c.WriteFixedI64(length)
}

func (s *Server) handleSetContent(c *wire.Conn) error {
	content, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	s.mu.Lock()
	setErr := s.dict.SetContent(content)
	s.mu.Unlock()

	if setErr != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if err := c.WriteFixedU8(uint8(causes.NoError)); err != nil {
		return err
	}
	s.publish(broker.EventSetContent, "", int64(len(content)), "")
	s.notifyObservers(causes.SetContent, "")
	return nil
}

func (s *Server) handleGetContent(c *wire.Conn) error {
	s.mu.Lock()
	content, err := s.dict.GetContent()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("get content: %w", err)
	}
	return c.WriteVariable(content)
}

func (s *Server) publish(kind broker.EventKind, tag string, length int64, userNameHash string) {
	if s.det != nil && tag != "" {
		if r := s.det.Record(tag, time.Now()); r.Alert != nil {
			log.Printf("rbae: hot tag detected: %q (%d writes)", r.Alert.Tag, r.Alert.Count)
		}
	}
	if s.broker == nil {
		return
	}
	s.broker.Publish(broker.Event{Kind: kind, Tag: tag, Length: length, UserNameHash: userNameHash})
}
