package arbae

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/mickamy/tagvault/auth"
	"github.com/mickamy/tagvault/causes"
	"github.com/mickamy/tagvault/li"
	"github.com/mickamy/tagvault/storage"
	"github.com/mickamy/tagvault/wire"
)

// observer is an authenticated connection that asked to be notified of
// writes made by its own user only (spec.md §4.6: ARBAE observers are
// scoped to a single user_name_hash, unlike RBAE's broadcast-to-all). id
// is carried for log correlation, mirroring original_source's
// ArbaeObserverConnection.con_id.
type observer struct {
	id           string
	mu           sync.Mutex
	conn         *wire.Conn
	userNameHash string
	sessionKey   []byte
}

func (s *Server) registerObserver(c *wire.Conn, userNameHash string, sessionKey []byte) {
	o := &observer{id: uuid.New().String(), conn: c, userNameHash: userNameHash, sessionKey: sessionKey}
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
	log.Printf("arbae: observer %s registered for %s", o.id, userNameHash)
}

// notifyObservers broadcasts cause and the (unprefixed) altered tag to
// every observer whose userNameHash matches. The tag is sent as a fresh
// nonce followed by the AES-CTR encryption of the tag under the observer's
// session key; unlike the request-side tag envelope, no nonce signature is
// embedded in the plaintext.
func (s *Server) notifyObservers(cause causes.Cause, userNameHash, actualTag string) {
	s.obsMu.Lock()
	var matching []*observer
	for _, o := range s.observers {
		if o.userNameHash == userNameHash {
			matching = append(matching, o)
		}
	}
	s.obsMu.Unlock()
	if len(matching) == 0 {
		return
	}

	userTag := actualTag
	if len(actualTag) >= len(userNameHash) {
		userTag = actualTag[len(userNameHash):]
	}

	var dead []*observer
	var deadMu sync.Mutex
	var wg sync.WaitGroup
	for _, o := range matching {
		wg.Add(1)
		go func(o *observer) {
			defer wg.Done()
			if err := o.send(cause, userTag); err != nil {
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
		log.Printf("arbae: observer %s dropped after send failure", d.id)
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

func (o *observer) send(cause causes.Cause, userTag string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.conn.WriteFixedI32(int32(cause)); err != nil {
		return fmt.Errorf("arbae: observer send cause: %w", err)
	}
	if userTag == "" {
		return nil
	}
	nonce, err := auth.GenerateNonce()
	if err != nil {
		return err
	}
	if err := o.conn.WriteFixedBytes(nonce); err != nil {
		return fmt.Errorf("arbae: observer send nonce: %w", err)
	}
	encrypted, err := auth.AESCTR128([]byte(userTag), o.sessionKey, nonce)
	if err != nil {
		return err
	}
	if err := o.conn.WriteVariable(encrypted); err != nil {
		return fmt.Errorf("arbae: observer send tag: %w", err)
	}
	return nil
}

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
