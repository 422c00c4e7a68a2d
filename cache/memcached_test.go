package cache

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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memcachedServer implements the text protocol subset the client uses:
// version, gets and set.
type memcachedServer struct {
	ln net.Listener

	mu   sync.Mutex
	data map[string][]byte
	exps map[string]int
}

func newMemcachedServer(t *testing.T) *memcachedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &memcachedServer{ln: ln, data: map[string][]byte{}, exps: map[string]int{}}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *memcachedServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *memcachedServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return
		}

		var reply string
		switch fields[0] {
		case "version":
			reply = "VERSION 1.6.21\r\n"
		case "gets", "get":
			reply = s.get(fields[1:])
		case "set":
			if len(fields) != 5 {
				reply = "CLIENT_ERROR bad command line format\r\n"
				break
			}
			exp, _ := strconv.Atoi(fields[3])
			size, err := strconv.Atoi(fields[4])
			if err != nil {
				return
			}
			buf := make([]byte, size+2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return
			}
			s.mu.Lock()
			s.data[fields[1]] = buf[:size]
			s.exps[fields[1]] = exp
			s.mu.Unlock()
			reply = "STORED\r\n"
		default:
			reply = "ERROR\r\n"
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (s *memcachedServer) get(keys []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			fmt.Fprintf(&sb, "VALUE %s 0 %d 1\r\n%s\r\n", k, len(v), v)
		}
	}
	sb.WriteString("END\r\n")
	return sb.String()
}

func (s *memcachedServer) set(key string, value []byte) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

func (s *memcachedServer) lookup(key string) (value []byte, exp int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok = s.data[key]
	return value, s.exps[key], ok
}

func newTestMemcached(t *testing.T) (*Memcached, *memcachedServer) {
	t.Helper()
	srv := newMemcachedServer(t)
	m, err := NewMemcached(srv.ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, srv
}

func TestMemcached_GetPut(t *testing.T) {
	ctx := context.Background()
	m, srv := newTestMemcached(t)

	_, ok := m.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "k", result("https://a.example/"), 1500*time.Millisecond))

	raw, exp, ok := srv.lookup(memcacheKey("k"))
	require.True(t, ok, "entry stored under the hashed key")
	assert.Equal(t, 2, exp)
	assert.Contains(t, string(raw), `"key":"k"`)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.True(t, got.Success)
	assert.Equal(t, "https://a.example/", got.URL)
}

func TestMemcached_NonPositiveTTLStoresNothing(t *testing.T) {
	ctx := context.Background()
	m, srv := newTestMemcached(t)

	require.NoError(t, m.Put(ctx, "k", result("https://a.example/"), -time.Second))

	_, _, ok := srv.lookup(memcacheKey("k"))
	assert.False(t, ok)
}

func TestMemcached_ExpiredEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m, _ := newTestMemcached(t)
	m.now = clock.Now

	require.NoError(t, m.Put(ctx, "k", result("https://a.example/"), time.Minute))
	clock.Advance(time.Minute)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemcached_KeyMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	m, srv := newTestMemcached(t)

	require.NoError(t, m.Put(ctx, "other", result("https://b.example/"), time.Minute))
	raw, _, ok := srv.lookup(memcacheKey("other"))
	require.True(t, ok)

	// Same bytes under k's slot, as a hash collision would leave them.
	srv.set(memcacheKey("k"), raw)

	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNewMemcached_UnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewMemcached(addr)
	assert.Error(t, err)
}
