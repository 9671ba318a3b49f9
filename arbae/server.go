// Package arbae implements the authenticated, multi-tenant remote
// byte-array-entry protocol: a shared ubae.Dict namespaced per user via
// auth.UserNameHash, guarded by an ECDH+AES-CTR session handshake
// (spec.md §4.4 "ARBAE"). Grounded on original_source's arbae_server.rs
// state machine, adapted to Go's goroutine-per-connection style.
package arbae

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mickamy/tagvault/auth"
	"github.com/mickamy/tagvault/broker"
	"github.com/mickamy/tagvault/causes"
	"github.com/mickamy/tagvault/detect"
	"github.com/mickamy/tagvault/ubae"
	"github.com/mickamy/tagvault/wire"
)

// Server serves the ARBAE protocol over any net.Listener, backed by a
// single shared ubae.Dict whose physical tags are namespaced per user
// (spec.md §9 OQ3: one mutex, held for the duration of streamed replies).
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
// against it (keyed on the namespaced actual tag, so two users' identical
// tag names never collide), and a matched alert is logged. Passing nil
// disables detection (the default).
func (s *Server) WithDetector(d *detect.Detector) *Server {
	s.det = d
	return s
}

// GetTags returns every physical tag currently stored across all users
// (namespace prefixes and password-store entries included), serialized against concurrent writes by the same mutex the request-
// handling path uses. Safe to call from another goroutine (e.g. the web
// dashboard) while the server is serving connections.
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
			return fmt.Errorf("arbae: accept: %w", err)
		}
		go s.handleConnection(wire.New(conn))
	}
}

func (s *Server) handleConnection(c *wire.Conn) {
	session, err := s.authenticate(c)
	if err != nil {
		log.Printf("arbae: authentication failed: %v", err)
		_ = c.Close()
		return
	}
	if session == nil {
		// Connection was registered as an observer and is now owned by
		// the observer goroutine; do not close it here.
		return
	}
	defer c.Close()
	s.serveClient(c, session)
}

// session holds the per-connection authentication state established by
// the LOGIN/REGISTER handshake: the user's namespace hash and the derived
// AES-128 session key used to decrypt tag envelopes.
type session struct {
	userName     string
	userNameHash string
	sessionKey   []byte
}

// authenticate runs the ECDH handshake and LOGIN/REGISTER/IS_OBSERVER
// state machine. It returns (nil, nil) if c was handed off to the
// observer registry.
func (s *Server) authenticate(c *wire.Conn) (*session, error) {
	initial, err := c.ReadFixedI32()
	if err != nil {
		return nil, fmt.Errorf("read initial cause: %w", err)
	}
	cause := causes.Cause(initial)

	userNameBytes, _, err := c.ReadVariable()
	if err != nil {
		return nil, fmt.Errorf("read user name: %w", err)
	}
	userName := string(userNameBytes)
	userNameHash := auth.UserNameHash(userName)
	passwordTag := auth.PasswordStoreTag(userNameHash)

	priv, err := auth.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	myPub := auth.PublicKeyBytes(priv)
	if err := c.WriteVariable(myPub); err != nil {
		return nil, fmt.Errorf("send public key: %w", err)
	}
	remotePub, _, err := c.ReadVariable()
	if err != nil {
		return nil, fmt.Errorf("read remote public key: %w", err)
	}
	sessionKey, err := auth.DoKeyExchange(priv, myPub, remotePub)
	if err != nil {
		_ = c.WriteFixedU8(uint8(causes.Error))
		return nil, fmt.Errorf("key exchange: %w", err)
	}

	nonce, err := c.ReadFixedBytes(auth.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("read password nonce: %w", err)
	}
	encryptedPassword, _, err := c.ReadVariable()
	if err != nil {
		return nil, fmt.Errorf("read encrypted password: %w", err)
	}
	passwordHashReceived, err := auth.AESCTR128(encryptedPassword, sessionKey, nonce)
	if err != nil {
		return nil, fmt.Errorf("decrypt password: %w", err)
	}

	switch cause {
	case causes.Login:
		return s.handleLogin(c, userName, userNameHash, passwordTag, passwordHashReceived, sessionKey)
	case causes.Register:
		return s.handleRegister(c, userName, userNameHash, passwordTag, passwordHashReceived, sessionKey)
	case causes.InitialObserver:
		return nil, s.handleObserverLogin(c, userNameHash, passwordTag, passwordHashReceived, sessionKey)
	default:
		_ = c.WriteFixedU8(uint8(causes.Error))
		return nil, fmt.Errorf("unrecognised initial cause: %d", initial)
	}
}

func (s *Server) handleLogin(c *wire.Conn, userName, userNameHash, passwordTag string, passwordHashReceived, sessionKey []byte) (*session, error) {
	s.mu.Lock()
	onFile, ok, err := s.dict.Get(passwordTag)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		_ = c.WriteFixedU8(uint8(causes.LoginFailedWrongName))
		return nil, fmt.Errorf("unknown user %q", userName)
	}
	if !bytes.Equal(onFile, passwordHashReceived) {
		_ = c.WriteFixedU8(uint8(causes.LoginFailedWrongPassword))
		return nil, fmt.Errorf("wrong password for %q", userName)
	}
	if err := c.WriteFixedU8(uint8(causes.LoginSuccessful)); err != nil {
		return nil, err
	}
	return &session{userName: userName, userNameHash: userNameHash, sessionKey: sessionKey}, nil
}

func (s *Server) handleRegister(c *wire.Conn, userName, userNameHash, passwordTag string, passwordHashReceived, sessionKey []byte) (*session, error) {
	s.mu.Lock()
	onFile, ok, err := s.dict.Get(passwordTag)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !ok {
		addErr := s.dict.AddNoCheck(passwordTag, passwordHashReceived)
		s.mu.Unlock()
		if addErr != nil {
			return nil, addErr
		}
		if err := c.WriteFixedU8(uint8(causes.RegisterSuccessful)); err != nil {
			return nil, err
		}
		return &session{userName: userName, userNameHash: userNameHash, sessionKey: sessionKey}, nil
	}
	s.mu.Unlock()
	if bytes.Equal(onFile, passwordHashReceived) {
		if err := c.WriteFixedU8(uint8(causes.LoginSuccessful)); err != nil {
			return nil, err
		}
		return &session{userName: userName, userNameHash: userNameHash, sessionKey: sessionKey}, nil
	}
	_ = c.WriteFixedU8(uint8(causes.RegisterFailedUserNameTaken))
	return nil, fmt.Errorf("user name %q taken", userName)
}

func (s *Server) handleObserverLogin(c *wire.Conn, userNameHash, passwordTag string, passwordHashReceived, sessionKey []byte) error {
	s.mu.Lock()
	onFile, ok, err := s.dict.Get(passwordTag)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		_ = c.WriteFixedU8(uint8(causes.LoginFailedWrongName))
		return fmt.Errorf("unknown observer user")
	}
	if !bytes.Equal(onFile, passwordHashReceived) {
		_ = c.WriteFixedU8(uint8(causes.LoginFailedWrongPassword))
		return fmt.Errorf("wrong observer password")
	}
	if err := c.WriteFixedU8(uint8(causes.LoginSuccessful)); err != nil {
		return err
	}
	s.registerObserver(c, userNameHash, sessionKey)
	return nil
}

func (s *Server) serveClient(c *wire.Conn, sess *session) {
	for {
		cause, err := c.ReadFixedI32()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("arbae: read cause: %v", err)
			}
			return
		}
		if err := s.dispatch(c, causes.Cause(cause), sess); err != nil {
			log.Printf("arbae: handling %s for %s: %v", causes.Cause(cause), sess.userName, err)
		}
	}
}

func (s *Server) dispatch(c *wire.Conn, cause causes.Cause, sess *session) error {
	switch cause {
	case causes.AddEntry:
		return s.handleAddEntry(c, sess)
	case causes.AddEntryNoCheck:
		return s.handleAddEntryNoCheck(c, sess)
	case causes.GetEntry:
		return s.handleGetEntry(c, sess)
	case causes.DeleteEntry:
		return s.handleDeleteEntry(c, sess)
	case causes.DeleteNoReturn:
		return s.handleDeleteNoReturn(c, sess)
	case causes.Exists:
		return s.handleExists(c, sess)
	case causes.GetTags:
		return s.handleGetTags(c, sess)
	case causes.Length:
		return s.handleLength(c, sess)
	case causes.Unregister:
		return s.handleUnregister(c, sess)
	default:
		return fmt.Errorf("unknown cause received: %d", int32(cause))
	}
}

func (s *Server) receiveTag(c *wire.Conn, sess *session) (string, error) {
	nonce, err := c.ReadFixedBytes(auth.NonceSize)
	if err != nil {
		return "", fmt.Errorf("read tag nonce: %w", err)
	}
	envelope, _, err := c.ReadVariable()
	if err != nil {
		return "", fmt.Errorf("read tag envelope: %w", err)
	}
	return auth.DecryptTagEnvelope(nonce, envelope, sess.userNameHash, sess.sessionKey)
}

func (s *Server) handleAddEntry(c *wire.Conn, sess *session) error {
	actualTag, err := s.receiveTag(c, sess)
	if err != nil {
		return err
	}
	entry, _, err := c.ReadVariable()
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}

	s.mu.Lock()
	addErr := s.dict.Add(actualTag, entry)
	s.mu.Unlock()

	if addErr != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if err := c.WriteFixedU8(uint8(causes.NoError)); err != nil {
		return err
	}
	s.publish(broker.EventAdd, actualTag, int64(len(entry)), sess.userNameHash)
	s.notifyObservers(causes.AddEntry, sess.userNameHash, actualTag)
	return nil
}

func (s *Server) handleAddEntryNoCheck(c *wire.Conn, sess *session) error {
	actualTag, err := s.receiveTag(c, sess)
	if err != nil {
		return err
	}
	stream, n, absent, err := c.ReadVariableStream()
	if err != nil {
		return fmt.Errorf("read entry stream: %w", err)
	}
	if absent {
		return fmt.Errorf("entry stream unexpectedly absent")
	}

	s.mu.Lock()
	addErr := s.dict.AddFromStreamNoCheck(actualTag, stream, n)
	s.mu.Unlock()

	if addErr != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if err := c.WriteFixedU8(uint8(causes.NoError)); err != nil {
		return err
	}
	s.publish(broker.EventAddNoCheck, actualTag, n, sess.userNameHash)
	s.notifyObservers(causes.AddEntryNoCheck, sess.userNameHash, actualTag)
	return nil
}

func (s *Server) handleGetEntry(c *wire.Conn, sess *session) error {
	actualTag, err := s.receiveTag(c, sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stream, n, ok, err := s.dict.GetStream(actualTag)
	if err != nil {
		_ = c.WriteFixedI64(wire.AbsentLength)
		return fmt.Errorf("get entry: %w", err)
	}
	if !ok {
		return c.WriteFixedI64(wire.AbsentLength)
	}
	return c.WriteVariableStream(stream, n)
}

func (s *Server) handleDeleteEntry(c *wire.Conn, sess *session) error {
	actualTag, err := s.receiveTag(c, sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	deleted, ok, err := s.dict.Delete(actualTag)
	s.mu.Unlock()

	if err != nil {
		_ = c.WriteFixedI64(wire.AbsentLength)
		return fmt.Errorf("delete entry: %w", err)
	}
	if !ok {
		if err := c.WriteFixedI64(wire.AbsentLength); err != nil {
			return err
		}
		return nil
	}
	if err := c.WriteVariable(deleted); err != nil {
		return err
	}
	s.publish(broker.EventDelete, actualTag, int64(len(deleted)), sess.userNameHash)
	s.notifyObservers(causes.DeleteEntry, sess.userNameHash, actualTag)
	return nil
}

func (s *Server) handleDeleteNoReturn(c *wire.Conn, sess *session) error {
	actualTag, err := s.receiveTag(c, sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ok, err := s.dict.DeleteNoReturn(actualTag)
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
	s.publish(broker.EventDeleteNoReturn, actualTag, 0, sess.userNameHash)
	s.notifyObservers(causes.DeleteNoReturn, sess.userNameHash, actualTag)
	return nil
}

func (s *Server) handleExists(c *wire.Conn, sess *session) error {
	actualTag, err := s.receiveTag(c, sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	exists, err := s.dict.Exists(actualTag)
	s.mu.Unlock()

	if err != nil {
		return c.WriteFixedU8(uint8(causes.Error))
	}
	if exists {
		return c.WriteFixedU8(uint8(causes.True))
	}
	return c.WriteFixedU8(uint8(causes.False))
}

// handleGetTags lists only the tags owned by the authenticated user, with
// the user_name_hash namespace prefix stripped, and returns them as a fresh
// nonce followed by the AES-CTR encryption of the LI-encoded list (no
// embedded nonce signature).
func (s *Server) handleGetTags(c *wire.Conn, sess *session) error {
	s.mu.Lock()
	allTags, err := s.dict.GetTags()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("get tags: %w", err)
	}

	var userTags []string
	prefix := sess.userNameHash
	for _, tag := range allTags {
		if len(tag) >= len(prefix) && tag[:len(prefix)] == prefix {
			userTags = append(userTags, tag[len(prefix):])
		}
	}

	encoded, err := encodeTagList(userTags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	nonce, err := auth.GenerateNonce()
	if err != nil {
		return err
	}
	if err := c.WriteFixedBytes(nonce); err != nil {
		return err
	}
	encrypted, err := auth.AESCTR128(encoded, sess.sessionKey, nonce)
	if err != nil {
		return err
	}
	return c.WriteVariable(encrypted)
}

func (s *Server) handleLength(c *wire.Conn, sess *session) error {
	actualTag, err := s.receiveTag(c, sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	length, err := s.dict.Length(actualTag)
	s.mu.Unlock()

	if err != nil {
		return c.WriteFixedI64(causes.ErrorI64)
	}
	return c.WriteFixedI64(length)
}

// handleUnregister deletes every tag owned by the session's user,
// including their password-store entry, authorized by session membership
// alone — no separate confirmation step (spec.md §9 OQ2).
func (s *Server) handleUnregister(c *wire.Conn, sess *session) error {
	s.mu.Lock()
	allTags, err := s.dict.GetTags()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("get tags: %w", err)
	}
	prefix := sess.userNameHash
	for _, tag := range allTags {
		if len(tag) >= len(prefix) && tag[:len(prefix)] == prefix {
			if _, delErr := s.dict.DeleteNoReturn(tag); delErr != nil {
				s.mu.Unlock()
				_ = c.WriteFixedU8(uint8(causes.Error))
				return fmt.Errorf("delete %q: %w", tag, delErr)
			}
		}
	}
	_, delErr := s.dict.DeleteNoReturn(auth.PasswordStoreTag(sess.userNameHash))
	s.mu.Unlock()
	if delErr != nil {
		_ = c.WriteFixedU8(uint8(causes.Error))
		return fmt.Errorf("delete password entry: %w", delErr)
	}
	if err := c.WriteFixedU8(uint8(causes.NoError)); err != nil {
		return err
	}
	s.notifyObservers(causes.Unregister, sess.userNameHash, "")
	return nil
}

func (s *Server) publish(kind broker.EventKind, tag string, length int64, userNameHash string) {
	if s.det != nil && tag != "" {
		if r := s.det.Record(tag, time.Now()); r.Alert != nil {
			log.Printf("arbae: hot tag detected for %s: %q (%d writes)", userNameHash, r.Alert.Tag, r.Alert.Count)
		}
	}
	if s.broker == nil {
		return
	}
	s.broker.Publish(broker.Event{Kind: kind, Tag: tag, Length: length, UserNameHash: userNameHash})
}
