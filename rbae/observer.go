package rbae

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/mickamy/tagvault/causes"
	"github.com/mickamy/tagvault/li"
	"github.com/mickamy/tagvault/storage"
	"github.com/mickamy/tagvault/wire"
)

// observer is a connection that asked to be notified of every write
// instead of issuing requests itself (spec.md §4.6). Each observer gets
// its own send mutex so a slow write to one observer cannot race with
// another notification destined for the same connection, and its own id
// for log correlation (mirrored from original_source's
// ArbaeObserverConnection.con_id).
type observer struct {
	id   string
	mu   sync.Mutex
	conn *wire.Conn
}

func (s *Server) registerObserver(c *wire.Conn) {
	o := &observer{id: uuid.New().String(), conn: c}
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
	log.Printf("rbae: observer %s registered", o.id)
}

// notifyObservers broadcasts cause and, if tag is non-empty, the tag that
// was altered, to every registered observer. An observer whose send fails
// is dropped from the list — the teacher's send_update_callback does the
// same assuming a closed socket on the client side.
func (s *Server) notifyObservers(cause causes.Cause, tag string) {
	s.obsMu.Lock()
	obs := make([]*observer, len(s.observers))
	copy(obs, s.observers)
	s.obsMu.Unlock()

	var dead []*observer
	var deadMu sync.Mutex
	var wg sync.WaitGroup
	for _, o := range obs {
		wg.Add(1)
		go func(o *observer) {
			defer wg.Done()
			if err := o.send(cause, tag); err != nil {
				deadMu.Lock()
				dead = append(dead, o)
				deadMu.Unlock()
			}
		}(o)
	}
	wg.Wait()

	if len(dead) == 0 {
		return
	}
	s.obsMu.Lock()
	for _, d := range dead {
		s.removeObserverLocked(d)
	}
	s.obsMu.Unlock()
	for _, d := range dead {
		log.Printf("rbae: observer %s dropped after send failure", d.id)
	}
}

func (s *Server) removeObserverLocked(target *observer) {
	for i, o := range s.observers {
		if o == target {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (o *observer) send(cause causes.Cause, tag string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.conn.WriteFixedI32(int32(cause)); err != nil {
		return fmt.Errorf("rbae: observer send cause: %w", err)
	}
	if tag == "" {
		return nil
	}
	if err := o.conn.WriteVariable([]byte(tag)); err != nil {
		return fmt.Errorf("rbae: observer send tag: %w", err)
	}
	return nil
}

// encodeTagList LI-encodes each tag as a separate record into an in-memory
// backend and returns the concatenated bytes, matching the wire format
// GET_TAGS clients decode back with a fresh li.Codec (original_source's
// handle_get_tags_by builds an equivalent throwaway LIbae over a
// VecStorageSystem).
func encodeTagList(tags []string) ([]byte, error) {
	backend := storage.NewMemory()
	codec := li.New(backend)
	for _, tag := range tags {
		if err := codec.Encode([]byte(tag)); err != nil {
			return nil, err
		}
	}
	return backend.GetContent()
}

// decodeTagList is the GET_TAGS client-side counterpart of encodeTagList.
func decodeTagList(encoded []byte) ([]string, error) {
	backend := storage.NewMemoryFrom(encoded)
	codec := li.New(backend)
	records, err := codec.DecodeAll()
	if err != nil {
		return nil, err
	}
	tags := make([]string, len(records))
	for i, r := range records {
		tags[i] = string(r)
	}
	return tags, nil
}
