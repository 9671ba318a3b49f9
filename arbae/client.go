package arbae

import (
	"fmt"
	"net"

	"github.com/mickamy/tagvault/auth"
	"github.com/mickamy/tagvault/causes"
	"github.com/mickamy/tagvault/wire"
)

// Client is an authenticated ARBAE request client: a single TCP
// connection, its derived session key, and the user_name_hash namespace
// it was authenticated under.
type Client struct {
	conn         *wire.Conn
	userNameHash string
	sessionKey   []byte
}

// Login authenticates addr as userName/password via LOGIN, running the
// ECDH handshake and failing if the credentials are wrong or unknown.
func Login(addr, userName, password string) (*Client, error) {
	return connect(addr, causes.Login, userName, password)
}

// Register creates a new user at addr, or behaves like Login if the user
// already exists with a matching password (spec.md §4.4).
func Register(addr, userName, password string) (*Client, error) {
	return connect(addr, causes.Register, userName, password)
}

func connect(addr string, cause causes.Cause, userName, password string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("arbae: dial %s: %w", addr, err)
	}
	c := wire.New(nc)

	sessionKey, err := handshake(c, cause, userName, password)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return &Client{conn: c, userNameHash: auth.UserNameHash(userName), sessionKey: sessionKey}, nil
}

// handshake runs the ECDH key exchange and sends the encrypted password,
// shared by client LOGIN/REGISTER and by ObserverClient registration.
func handshake(c *wire.Conn, cause causes.Cause, userName, password string) ([]byte, error) {
	if err := c.WriteFixedI32(int32(cause)); err != nil {
		return nil, err
	}
	if err := c.WriteVariable([]byte(userName)); err != nil {
		return nil, err
	}

	priv, err := auth.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	myPub := auth.PublicKeyBytes(priv)

	remotePub, _, err := c.ReadVariable()
	if err != nil {
		return nil, fmt.Errorf("arbae: read server public key: %w", err)
	}
	if err := c.WriteVariable(myPub); err != nil {
		return nil, err
	}
	sessionKey, err := auth.DoKeyExchange(priv, myPub, remotePub)
	if err != nil {
		return nil, err
	}

	nonce, err := auth.GenerateNonce()
	if err != nil {
		return nil, err
	}
	encryptedPasswordHash, err := auth.AESCTR128(auth.SHA256([]byte(password)), sessionKey, nonce)
	if err != nil {
		return nil, err
	}
	if err := c.WriteFixedBytes(nonce); err != nil {
		return nil, err
	}
	if err := c.WriteVariable(encryptedPasswordHash); err != nil {
		return nil, err
	}

	reply, err := c.ReadFixedI8()
	if err != nil {
		return nil, fmt.Errorf("arbae: read auth reply: %w", err)
	}
	switch causes.Cause(reply) {
	case causes.LoginSuccessful, causes.RegisterSuccessful:
		return sessionKey, nil
	default:
		return nil, fmt.Errorf("arbae: authentication failed: %s", causes.Cause(reply))
	}
}

// Close closes the underlying connection.
func (cl *Client) Close() error {
	return cl.conn.Close()
}

func (cl *Client) sendTag(tag string) error {
	nonce, envelope, err := auth.EncryptTagEnvelope(tag, cl.sessionKey)
	if err != nil {
		return err
	}
	if err := cl.conn.WriteFixedBytes(nonce); err != nil {
		return err
	}
	return cl.conn.WriteVariable(envelope)
}

// Add stores content under tag, replacing any existing entry for tag.
func (cl *Client) Add(tag string, content []byte) error {
	if err := cl.conn.WriteFixedI32(int32(causes.AddEntry)); err != nil {
		return err
	}
	if err := cl.sendTag(tag); err != nil {
		return err
	}
	if err := cl.conn.WriteVariable(content); err != nil {
		return err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return fmt.Errorf("arbae: add: %w", err)
	}
	if causes.Reply(reply) != causes.NoError {
		return fmt.Errorf("arbae: add %q: server returned %s", tag, causes.Reply(reply))
	}
	return nil
}

// Get fetches the content stored under tag. ok is false if tag is absent.
func (cl *Client) Get(tag string) (content []byte, ok bool, err error) {
	if err := cl.conn.WriteFixedI32(int32(causes.GetEntry)); err != nil {
		return nil, false, err
	}
	if err := cl.sendTag(tag); err != nil {
		return nil, false, err
	}
	content, absent, err := cl.conn.ReadVariable()
	if err != nil {
		return nil, false, fmt.Errorf("arbae: get %q: %w", tag, err)
	}
	if absent {
		return nil, false, nil
	}
	return content, true, nil
}

// Delete removes tag, returning its last content. ok is false if tag was
// absent.
func (cl *Client) Delete(tag string) (content []byte, ok bool, err error) {
	if err := cl.conn.WriteFixedI32(int32(causes.DeleteEntry)); err != nil {
		return nil, false, err
	}
	if err := cl.sendTag(tag); err != nil {
		return nil, false, err
	}
	content, absent, err := cl.conn.ReadVariable()
	if err != nil {
		return nil, false, fmt.Errorf("arbae: delete %q: %w", tag, err)
	}
	if absent {
		return nil, false, nil
	}
	return content, true, nil
}

// DeleteNoReturn removes tag without returning its content.
func (cl *Client) DeleteNoReturn(tag string) (existed bool, err error) {
	if err := cl.conn.WriteFixedI32(int32(causes.DeleteNoReturn)); err != nil {
		return false, err
	}
	if err := cl.sendTag(tag); err != nil {
		return false, err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return false, fmt.Errorf("arbae: delete_noreturn %q: %w", tag, err)
	}
	switch causes.Reply(reply) {
	case causes.True:
		return true, nil
	case causes.False:
		return false, nil
	default:
		return false, fmt.Errorf("arbae: delete_noreturn %q: server returned %s", tag, causes.Reply(reply))
	}
}

// Exists reports whether tag is present.
func (cl *Client) Exists(tag string) (bool, error) {
	if err := cl.conn.WriteFixedI32(int32(causes.Exists)); err != nil {
		return false, err
	}
	if err := cl.sendTag(tag); err != nil {
		return false, err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return false, fmt.Errorf("arbae: exists %q: %w", tag, err)
	}
	switch causes.Reply(reply) {
	case causes.True:
		return true, nil
	case causes.False:
		return false, nil
	default:
		return false, fmt.Errorf("arbae: exists %q: server returned %s", tag, causes.Reply(reply))
	}
}

// Length returns the byte length stored under tag, or -1 if absent.
func (cl *Client) Length(tag string) (int64, error) {
	if err := cl.conn.WriteFixedI32(int32(causes.Length)); err != nil {
		return 0, err
	}
	if err := cl.sendTag(tag); err != nil {
		return 0, err
	}
	n, err := cl.conn.ReadFixedI64()
	if err != nil {
		return 0, fmt.Errorf("arbae: length %q: %w", tag, err)
	}
	return n, nil
}

// GetTags lists every tag owned by the authenticated user, namespace
// prefix stripped.
func (cl *Client) GetTags() ([]string, error) {
	if err := cl.conn.WriteFixedI32(int32(causes.GetTags)); err != nil {
		return nil, err
	}
	nonce, err := cl.conn.ReadFixedBytes(auth.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("arbae: get_tags: read nonce: %w", err)
	}
	encrypted, _, err := cl.conn.ReadVariable()
	if err != nil {
		return nil, fmt.Errorf("arbae: get_tags: %w", err)
	}
	encoded, err := auth.AESCTR128(encrypted, cl.sessionKey, nonce)
	if err != nil {
		return nil, err
	}
	return decodeTagList(encoded)
}

// Unregister deletes every tag the authenticated user owns, including
// their password-store entry. The server keeps the connection open
// afterwards.
func (cl *Client) Unregister() error {
	if err := cl.conn.WriteFixedI32(int32(causes.Unregister)); err != nil {
		return err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return fmt.Errorf("arbae: unregister: %w", err)
	}
	if causes.Reply(reply) != causes.NoError {
		return fmt.Errorf("arbae: unregister: server returned %s", causes.Reply(reply))
	}
	return nil
}

// ObserverClient is an authenticated connection registered to receive
// write notifications scoped to its own user only.
type ObserverClient struct {
	conn       *wire.Conn
	sessionKey []byte
}

// DialObserver authenticates addr as userName/password via the
// IS_OBSERVER handshake.
func DialObserver(addr, userName, password string) (*ObserverClient, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("arbae: dial_observer %s: %w", addr, err)
	}
	c := wire.New(nc)
	sessionKey, err := handshake(c, causes.InitialObserver, userName, password)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return &ObserverClient{conn: c, sessionKey: sessionKey}, nil
}

// Close closes the underlying connection.
func (o *ObserverClient) Close() error {
	return o.conn.Close()
}

// Next blocks until the next write notification arrives, returning the
// cause that completed and the (namespace-stripped) tag altered, if any.
func (o *ObserverClient) Next() (causes.Cause, string, error) {
	cause, err := o.conn.ReadFixedI32()
	if err != nil {
		return 0, "", fmt.Errorf("arbae: observer next: %w", err)
	}
	if causes.Cause(cause) == causes.Unregister {
		return causes.Unregister, "", nil
	}
	nonce, err := o.conn.ReadFixedBytes(auth.NonceSize)
	if err != nil {
		return 0, "", fmt.Errorf("arbae: observer next: read nonce: %w", err)
	}
	encrypted, _, err := o.conn.ReadVariable()
	if err != nil {
		return 0, "", fmt.Errorf("arbae: observer next: read tag: %w", err)
	}
	tag, err := auth.AESCTR128(encrypted, o.sessionKey, nonce)
	if err != nil {
		return 0, "", err
	}
	return causes.Cause(cause), string(tag), nil
}
