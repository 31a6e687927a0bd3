package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/celerix-dev/rungodb/internal/engine"
)

func startRouter(t *testing.T, e *engine.Engine) (*Router, string) {
	t.Helper()
	router := NewRouter(e)
	go router.Listen("0")

	var port string
	for i := 0; i < 20; i++ {
		time.Sleep(50 * time.Millisecond)
		if addr := router.Addr(); addr != nil {
			port = fmt.Sprintf("%d", addr.(*net.TCPAddr).Port)
			break
		}
	}
	if port == "" {
		t.Fatalf("Server did not start in time")
	}
	t.Cleanup(func() { router.Stop() })
	return router, port
}

func dial(t *testing.T, port string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", "127.0.0.1:"+port)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func send(t *testing.T, conn net.Conn, reader *bufio.Reader, cmd string) string {
	t.Helper()
	fmt.Fprintf(conn, "%s\n", cmd)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Read error after %q: %v", cmd, err)
	}
	return line
}

func TestRouter_TCP_Commands(t *testing.T) {
	_, port := startRouter(t, engine.New(nil, nil))
	conn, reader := dial(t, port)

	if line := send(t, conn, reader, "PING"); line != "PONG\n" {
		t.Errorf("Expected PONG, got %q", line)
	}

	if line := send(t, conn, reader, `INSERT projects {"name": "My project", "uid": "xxya"}`); line != "OK xxya\n" {
		t.Errorf("Expected OK xxya, got %q", line)
	}

	line := send(t, conn, reader, `QUERY projects {"uid":"xxya"}`)
	if line != "OK [{\"name\":\"My project\",\"uid\":\"xxya\"}]\n" {
		t.Errorf("Unexpected QUERY response %q", line)
	}

	if line := send(t, conn, reader, `DELETE projects {"uid":"xxya"}`); line != "OK 1\n" {
		t.Errorf("Expected OK 1, got %q", line)
	}

	if line := send(t, conn, reader, "QUERY projects"); line != "OK []\n" {
		t.Errorf("Expected OK [], got %q", line)
	}

	if line := send(t, conn, reader, "LIST"); line != "OK [\"projects\"]\n" {
		t.Errorf("Expected OK [\"projects\"], got %q", line)
	}
}

func TestRouter_InsertGeneratesUID(t *testing.T) {
	e := engine.New(nil, nil)
	_, port := startRouter(t, e)
	conn, reader := dial(t, port)

	line := send(t, conn, reader, `insert users {"name":"ann"}`)
	if !strings.HasPrefix(line, "OK ") || len(strings.TrimSpace(line)) != len("OK ")+36 {
		t.Fatalf("Expected OK <uuid>, got %q", line)
	}
	uid := strings.TrimSpace(strings.TrimPrefix(line, "OK "))
	found, _ := e.Query("users", nil)
	if len(found) != 1 || found[0]["uid"] != uid {
		t.Errorf("Expected stored uid %s, got %v", uid, found)
	}
}

func TestRouter_ExportAndDeleteAll(t *testing.T) {
	e := engine.New(nil, nil)
	e.Insert("a", map[string]any{"uid": "1"})
	e.Insert("a", map[string]any{"uid": "2"})
	_, port := startRouter(t, e)
	conn, reader := dial(t, port)

	line := send(t, conn, reader, "EXPORT")
	if line != "OK {\"a\":{\"1\":{\"uid\":\"1\"},\"2\":{\"uid\":\"2\"}}}\n" {
		t.Errorf("Unexpected EXPORT response %q", line)
	}

	if line := send(t, conn, reader, "DELETE a"); line != "OK 2\n" {
		t.Errorf("Expected OK 2, got %q", line)
	}
	if line := send(t, conn, reader, "EXPORT"); line != "OK {\"a\":{}}\n" {
		t.Errorf("Container should survive delete-all, got %q", line)
	}
}

func TestRouter_MalformedCommands(t *testing.T) {
	_, port := startRouter(t, engine.New(nil, nil))
	conn, reader := dial(t, port)

	for cmd, want := range map[string]string{
		"INSERT":               "ERR missing container",
		"INSERT c":             "ERR missing entity",
		"INSERT c {invalid}":   "ERR invalid json value",
		`INSERT c "text"`:      "ERR ",
		`INSERT c {"uid": 42}`: "ERR uid must be a string",
		"QUERY c [1,2]":        "ERR predicate must be a json object",
		"DELETE":               "ERR missing container",
		"FLY away":             "ERR unknown command FLY",
	} {
		line := send(t, conn, reader, cmd)
		if !strings.HasPrefix(line, want) {
			t.Errorf("%q: expected prefix %q, got %q", cmd, want, line)
		}
	}

	if line := send(t, conn, reader, "PING"); line != "PONG\n" {
		t.Error("Did not receive PONG")
	}
}

func TestRouter_RejectsUnsafeTokens(t *testing.T) {
	e := engine.New(nil, nil)
	_, port := startRouter(t, e)
	conn, reader := dial(t, port)

	for _, cmd := range []string{
		`INSERT c {"uid":"a\nb"}`,
		`INSERT c {"uid":"a b"}`,
		`INSERT c {"uid":"tab\tuid"}`,
		"INSERT c\tx {}",
		"QUERY c\x01",
		"DELETE c\x7f",
	} {
		line := send(t, conn, reader, cmd)
		if !strings.HasPrefix(line, "ERR ") || strings.Count(line, "\n") != 1 {
			t.Errorf("%q: expected a single ERR line, got %q", cmd, line)
		}
		if line := send(t, conn, reader, "PING"); line != "PONG\n" {
			t.Fatalf("%q: connection out of sync, PING answered with %q", cmd, line)
		}
	}

	if names, _ := e.Containers(); len(names) != 0 {
		t.Errorf("Rejected commands must not create containers, got %v", names)
	}
}

func TestRouter_ConcurrentConnections(t *testing.T) {
	_, port := startRouter(t, engine.New(nil, nil))

	conns := make([]net.Conn, 0)
	for i := 0; i < 110; i++ {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:"+port, 100*time.Millisecond)
		if err == nil {
			conns = append(conns, conn)
		}
	}
	for _, c := range conns {
		c.Close()
	}
}

func TestRouter_Quit(t *testing.T) {
	_, port := startRouter(t, engine.New(nil, nil))
	conn, reader := dial(t, port)

	fmt.Fprintf(conn, "QUIT\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := reader.ReadString('\n'); err == nil {
		t.Error("Expected connection to be closed after QUIT")
	}
}
