// Package sdk provides the client-side library for interacting with a RungoDB store.
// It supports both remote connections via TCP/TLS and local embedded mode.
package sdk

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/rungodb/pkg/docstore"
)

// ErrRemote wraps an ERR line sent back by the daemon.
var ErrRemote = errors.New("remote error")

const maxAttempts = 3

// Client is a remote client for the RungoDB daemon.
// It implements the DocStore interface.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

// Connect establishes a TLS-encrypted connection to a remote RungoDB daemon.
// If RUNGO_DISABLE_TLS is set to "true", it falls back to plain TCP.
func Connect(addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	var conn net.Conn
	var err error
	if os.Getenv("RUNGO_DISABLE_TLS") == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // The daemon uses an in-memory self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// roundTrip sends one command line and returns the payload of the response.
func (c *Client) roundTrip(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for i := 0; i < maxAttempts; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		var resp string
		if _, err = fmt.Fprint(c.conn, cmd+"\n"); err == nil {
			if resp, err = c.reader.ReadString('\n'); err == nil {
				return parseResponse(strings.TrimRight(resp, "\r\n"))
			}
		}

		slog.Warn("Request failed, reconnecting", "addr", c.addr, "attempt", i+1, "err", err)
		if closeErr := c.reconnect(); closeErr != nil {
			slog.Warn("Reconnect failed", "addr", c.addr, "err", closeErr)
		}
		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after %d attempts. last error: %w", maxAttempts, err)
}

// parseResponse returns the payload of an OK line, exactly as sent.
func parseResponse(resp string) (string, error) {
	switch {
	case resp == "PONG":
		return resp, nil
	case resp == "OK":
		return "", nil
	case strings.HasPrefix(resp, "OK "):
		return strings.TrimPrefix(resp, "OK "), nil
	case strings.HasPrefix(resp, "ERR"):
		return "", fmt.Errorf("%w: %s", ErrRemote, strings.TrimSpace(strings.TrimPrefix(resp, "ERR")))
	}
	return "", fmt.Errorf("unexpected response %q", resp)
}

func encodePredicate(p docstore.Predicate) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return " " + string(b), nil
}

// Insert sends entity to the daemon and returns the uid it was stored under.
func (c *Client) Insert(container string, entity any) (string, error) {
	if err := ValidateName(container); err != nil {
		return "", err
	}
	b, err := json.Marshal(entity)
	if err != nil {
		return "", err
	}
	return c.roundTrip(fmt.Sprintf("INSERT %s %s", container, b))
}

// Query returns the entities of container matching p.
func (c *Client) Query(container string, p docstore.Predicate) ([]docstore.Entity, error) {
	if err := ValidateName(container); err != nil {
		return nil, err
	}
	pred, err := encodePredicate(p)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip("QUERY " + container + pred)
	if err != nil {
		return nil, err
	}
	out := []docstore.Entity{}
	err = json.Unmarshal([]byte(resp), &out)
	return out, err
}

// Delete removes the entities of container matching p.
func (c *Client) Delete(container string, p docstore.Predicate) (int, error) {
	if err := ValidateName(container); err != nil {
		return 0, err
	}
	pred, err := encodePredicate(p)
	if err != nil {
		return 0, err
	}
	resp, err := c.roundTrip("DELETE " + container + pred)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// Export returns the daemon's whole tree.
func (c *Client) Export() (docstore.Tree, error) {
	resp, err := c.roundTrip("EXPORT")
	if err != nil {
		return nil, err
	}
	var tree docstore.Tree
	err = json.Unmarshal([]byte(resp), &tree)
	return tree, err
}

// Containers lists the daemon's container names.
func (c *Client) Containers() ([]string, error) {
	resp, err := c.roundTrip("LIST")
	if err != nil {
		return nil, err
	}
	var names []string
	err = json.Unmarshal([]byte(resp), &names)
	return names, err
}

// Ping checks the connection.
func (c *Client) Ping() error {
	resp, err := c.roundTrip("PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping response %q", resp)
	}
	return nil
}

// Close says goodbye to the daemon and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}
