package session_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatdesk/internal/session"
)

// respServer answers the handful of redis commands the store uses. Anything
// else, including the client's connection handshake, gets an error reply.
type respServer struct {
	ln   net.Listener
	mu   sync.Mutex
	data map[string]string
}

func startRESPServer(t *testing.T) *respServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &respServer{ln: ln, data: map[string]string{}}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *respServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, s.exec(args)); err != nil {
			return
		}
	}
}

func (s *respServer) exec(args []string) string {
	if len(args) == 0 {
		return "-ERR empty command\r\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "GET":
		v, ok := s.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
	case "SET":
		s.data[args[1]] = args[2]
		return "+OK\r\n"
	case "DEL":
		n := 0
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				delete(s.data, k)
				n++
			}
		}
		return fmt.Sprintf(":%d\r\n", n)
	default:
		return "-ERR unknown command '" + args[0] + "'\r\n"
	}
}

func (s *respServer) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// readCommand reads one RESP array of bulk strings.
func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return strings.Fields(line), nil
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(header, "\r\n")[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestRedisStoreRoundTrip(t *testing.T) {
	srv := startRESPServer(t)
	ctx := context.Background()

	store, err := session.OpenStore("redis://" + srv.ln.Addr().String() + "/0?protocol=2")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)

	require.NoError(t, store.Save(ctx, "42"))
	stored, ok := srv.get(session.StorageKey)
	require.True(t, ok)
	assert.Equal(t, "42", stored)

	id, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestRedisStoreSharesIdentityPerKey(t *testing.T) {
	srv := startRESPServer(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: srv.ln.Addr().String(), Protocol: 2})
	defer client.Close()
	first := session.NewRedisStoreWithClient(client, "widget:kiosk")
	second := session.NewRedisStoreWithClient(client, "widget:kiosk")
	other := session.NewRedisStoreWithClient(client, "widget:other")

	require.NoError(t, first.Save(ctx, "7"))

	id, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	_, err = other.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := redis.NewClient(&redis.Options{Addr: addr, Protocol: 2, MaxRetries: -1})
	store := session.NewRedisStoreWithClient(client, "")
	defer store.Close()

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrNoSession)
}
