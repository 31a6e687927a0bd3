// Package server implements the RungoDB line protocol over TCP.
package server

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/rungodb/pkg/docstore"
	"github.com/celerix-dev/rungodb/pkg/sdk"
)

const (
	maxConnections = 100
	connDeadline   = 5 * time.Minute
	idleDeadline   = 30 * time.Second
)

// Router serves DocStore operations, one command per line:
//
//	INSERT <container> <json-object>    -> OK <uid>
//	QUERY <container> [<json-predicate>] -> OK <json-array>
//	DELETE <container> [<json-predicate>] -> OK <count>
//	EXPORT                               -> OK <json-tree>
//	LIST                                 -> OK <json-array>
//	PING                                 -> PONG
//	QUIT
//
// Failures are answered with "ERR <message>".
type Router struct {
	store sdk.DocStore
	cert  *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

func NewRouter(s sdk.DocStore) *Router {
	return &Router{store: s}
}

// SetCertificate enables TLS with cert.
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Listen accepts connections on port until Stop is called.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error
	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()
	slog.Info("TCP server listening", "addr", listener.Addr().String(), "tls", r.cert != nil)

	semaphore := make(chan struct{}, maxConnections)
	for {
		conn, err := listener.Accept()
		if err != nil {
			r.mu.Lock()
			stopped := r.stopped
			r.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("Accept failed", "err", err)
			continue
		}

		conn.SetDeadline(time.Now().Add(connDeadline))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Addr returns the listening address, or nil before Listen has bound.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop closes the listener. Open connections finish their current command and
// end at their deadline or when the client quits.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// HandleConnection serves commands read from conn until QUIT, EOF or a read timeout.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(idleDeadline))

		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("Connection closed", "remote", conn.RemoteAddr().String(), "err", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		command, rest, _ := strings.Cut(line, " ")
		command = strings.ToUpper(command)
		if command == "QUIT" {
			return
		}
		fmt.Fprintln(conn, r.execute(command, strings.TrimSpace(rest)))
	}
}

func (r *Router) execute(command, args string) string {
	switch command {
	case "PING":
		return "PONG"

	case "INSERT":
		container, body, err := splitContainer(args)
		if err != nil {
			return "ERR " + err.Error()
		}
		if body == "" {
			return "ERR missing entity"
		}
		var entity any
		if err := json.Unmarshal([]byte(body), &entity); err != nil {
			return "ERR invalid json value"
		}
		// The uid is echoed back on the reply line.
		if obj, ok := entity.(map[string]any); ok {
			if uid, ok := obj[docstore.UIDField].(string); ok && uid != "" {
				if err := sdk.ValidateName(uid); err != nil {
					return "ERR uid: " + err.Error()
				}
			}
		}
		uid, err := r.store.Insert(container, entity)
		if err != nil {
			return "ERR " + err.Error()
		}
		return "OK " + uid

	case "QUERY":
		container, body, err := splitContainer(args)
		if err != nil {
			return "ERR " + err.Error()
		}
		p, err := parsePredicate(body)
		if err != nil {
			return "ERR " + err.Error()
		}
		found, err := r.store.Query(container, p)
		if err != nil {
			return "ERR " + err.Error()
		}
		return encode(found)

	case "DELETE":
		container, body, err := splitContainer(args)
		if err != nil {
			return "ERR " + err.Error()
		}
		p, err := parsePredicate(body)
		if err != nil {
			return "ERR " + err.Error()
		}
		n, err := r.store.Delete(container, p)
		if err != nil {
			return "ERR " + err.Error()
		}
		return "OK " + strconv.Itoa(n)

	case "EXPORT":
		tree, err := r.store.Export()
		if err != nil {
			return "ERR " + err.Error()
		}
		return encode(tree)

	case "LIST":
		names, err := r.store.Containers()
		if err != nil {
			return "ERR " + err.Error()
		}
		return encode(names)
	}
	return "ERR unknown command " + command
}

func splitContainer(args string) (container, rest string, err error) {
	container, rest, _ = strings.Cut(args, " ")
	if container == "" {
		return "", "", errors.New("missing container")
	}
	if err := sdk.ValidateName(container); err != nil {
		return "", "", err
	}
	return container, strings.TrimSpace(rest), nil
}

func parsePredicate(body string) (docstore.Predicate, error) {
	if body == "" {
		return nil, nil
	}
	var p docstore.Predicate
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, errors.New("predicate must be a json object")
	}
	return p, nil
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "ERR internal error"
	}
	return "OK " + string(b)
}
