package rbae

import (
	"fmt"
	"net"

	"github.com/mickamy/tagvault/causes"
	"github.com/mickamy/tagvault/wire"
)

// Client is an RBAE request client: a single TCP connection over which
// requests are issued strictly one at a time (spec.md §5: one request in
// flight per connection).
type Client struct {
	conn *wire.Conn
}

// Dial connects to an RBAE server at addr and sends the INITIAL_CLIENT
// handshake cause.
func Dial(addr string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rbae: dial %s: %w", addr, err)
	}
	c := wire.New(nc)
	if err := c.WriteFixedI32(int32(causes.InitialClient)); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("rbae: dial %s: initial handshake: %w", addr, err)
	}
	return &Client{conn: c}, nil
}

// Close closes the underlying connection.
func (cl *Client) Close() error {
	return cl.conn.Close()
}

// Add stores content under tag, replacing any existing entry for tag.
func (cl *Client) Add(tag string, content []byte) error {
	if err := cl.conn.WriteFixedI32(int32(causes.AddEntry)); err != nil {
		return err
	}
	if err := cl.conn.WriteVariable([]byte(tag)); err != nil {
		return err
	}
	if err := cl.conn.WriteVariable(content); err != nil {
		return err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return fmt.Errorf("rbae: add: %w", err)
	}
	if causes.Reply(reply) != causes.NoError {
		return fmt.Errorf("rbae: add %q: server returned %s", tag, causes.Reply(reply))
	}
	return nil
}

// Get fetches the content stored under tag. ok is false if tag is absent.
func (cl *Client) Get(tag string) (content []byte, ok bool, err error) {
	if err := cl.conn.WriteFixedI32(int32(causes.GetEntry)); err != nil {
		return nil, false, err
	}
	if err := cl.conn.WriteVariable([]byte(tag)); err != nil {
		return nil, false, err
	}
	content, absent, err := cl.conn.ReadVariable()
	if err != nil {
		return nil, false, fmt.Errorf("rbae: get %q: %w", tag, err)
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
	if err := cl.conn.WriteVariable([]byte(tag)); err != nil {
		return nil, false, err
	}
	content, absent, err := cl.conn.ReadVariable()
	if err != nil {
		return nil, false, fmt.Errorf("rbae: delete %q: %w", tag, err)
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
	if err := cl.conn.WriteVariable([]byte(tag)); err != nil {
		return false, err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return false, fmt.Errorf("rbae: delete_noreturn %q: %w", tag, err)
	}
	switch causes.Reply(reply) {
	case causes.True:
		return true, nil
	case causes.False:
		return false, nil
	default:
		return false, fmt.Errorf("rbae: delete_noreturn %q: server returned %s", tag, causes.Reply(reply))
	}
}

// Exists reports whether tag is present.
func (cl *Client) Exists(tag string) (bool, error) {
	if err := cl.conn.WriteFixedI32(int32(causes.Exists)); err != nil {
		return false, err
	}
	if err := cl.conn.WriteVariable([]byte(tag)); err != nil {
		return false, err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return false, fmt.Errorf("rbae: exists %q: %w", tag, err)
	}
	switch causes.Reply(reply) {
	case causes.True:
		return true, nil
	case causes.False:
		return false, nil
	default:
		return false, fmt.Errorf("rbae: exists %q: server returned %s", tag, causes.Reply(reply))
	}
}

// Length returns the byte length stored under tag, or -1 if absent.
func (cl *Client) Length(tag string) (int64, error) {
	if err := cl.conn.WriteFixedI32(int32(causes.Length)); err != nil {
		return 0, err
	}
	if err := cl.conn.WriteVariable([]byte(tag)); err != nil {
		return 0, err
	}
	n, err := cl.conn.ReadFixedI64()
	if err != nil {
		return 0, fmt.Errorf("rbae: length %q: %w", tag, err)
	}
	return n, nil
}

// GetTags lists every tag currently stored.
func (cl *Client) GetTags() ([]string, error) {
	if err := cl.conn.WriteFixedI32(int32(causes.GetTags)); err != nil {
		return nil, err
	}
	encoded, _, err := cl.conn.ReadVariable()
	if err != nil {
		return nil, fmt.Errorf("rbae: get_tags: %w", err)
	}
	return decodeTagList(encoded)
}

// SetContent replaces the whole backend's raw content.
func (cl *Client) SetContent(content []byte) error {
	if err := cl.conn.WriteFixedI32(int32(causes.SetContent)); err != nil {
		return err
	}
	if err := cl.conn.WriteVariable(content); err != nil {
		return err
	}
	reply, err := cl.conn.ReadFixedI8()
	if err != nil {
		return fmt.Errorf("rbae: set_content: %w", err)
	}
	if causes.Reply(reply) != causes.NoError {
		return fmt.Errorf("rbae: set_content: server returned %s", causes.Reply(reply))
	}
	return nil
}

// GetContent returns the whole backend's raw content.
func (cl *Client) GetContent() ([]byte, error) {
	if err := cl.conn.WriteFixedI32(int32(causes.GetContent)); err != nil {
		return nil, err
	}
	content, _, err := cl.conn.ReadVariable()
	if err != nil {
		return nil, fmt.Errorf("rbae: get_content: %w", err)
	}
	return content, nil
}

// ObserverClient is a connection registered to receive write
// notifications instead of issuing requests (spec.md §4.6).
type ObserverClient struct {
	conn *wire.Conn
}

// DialObserver connects to addr and sends the INITIAL_OBSERVER handshake
// cause.
func DialObserver(addr string) (*ObserverClient, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rbae: dial_observer %s: %w", addr, err)
	}
	c := wire.New(nc)
	if err := c.WriteFixedI32(int32(causes.InitialObserver)); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("rbae: dial_observer %s: initial handshake: %w", addr, err)
	}
	return &ObserverClient{conn: c}, nil
}

// Close closes the underlying connection.
func (o *ObserverClient) Close() error {
	return o.conn.Close()
}

// Next blocks until the next write notification arrives, returning the
// cause that completed and the tag altered (empty for SET_CONTENT, which
// touches no single tag).
func (o *ObserverClient) Next() (causes.Cause, string, error) {
	cause, err := o.conn.ReadFixedI32()
	if err != nil {
		return 0, "", fmt.Errorf("rbae: observer next: %w", err)
	}
	switch causes.Cause(cause) {
	case causes.SetContent:
		return causes.SetContent, "", nil
	default:
		tag, _, err := o.conn.ReadVariable()
		if err != nil {
			return 0, "", fmt.Errorf("rbae: observer next: read tag: %w", err)
		}
		return causes.Cause(cause), string(tag), nil
	}
}
