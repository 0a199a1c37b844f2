package registry

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/zynqcloud/nimbusfs/internal/wire"
)

// Server is the Registry's TCP front end. It owns one Store per role and
// dispatches decoded frames directly — there is no business logic here
// beyond token validation, upsert, and list-rendering (spec.md §4.2).
type Server struct {
	DataStore *Store
	NameStore *Store
	Token     string
	Logger    *slog.Logger
}

// NewServer builds a Registry server with fresh Data/Name stores using the
// given heartbeat timeout.
func NewServer(timeout time.Duration, token string, logger *slog.Logger) *Server {
	return &Server{
		DataStore: NewStore(timeout),
		NameStore: NewStore(timeout),
		Token:     token,
		Logger:    logger,
	}
}

// Serve accepts connections on ln until ctx is cancelled. Each connection is
// handled in its own goroutine; Serve returns once the listener is closed.
//
// Grounded on the teacher's cmd/server/main.go accept-then-signal shutdown
// shape, adapted from http.Server.Shutdown (there is no net/http here) to a
// plain listener-close: cancelling ctx closes ln, which unblocks Accept with
// a permanent error that Serve treats as a clean stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	dec := wire.NewDecoder()
	buf := make([]byte, 64*1024)
	for {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			events, decErr := dec.Feed(buf[:n])
			for _, ev := range events {
				if ev.Packet == nil {
					continue // Registry frames never carry a stream payload
				}
				if s.dispatch(conn, *ev.Packet) {
					return // ERROR on auth failure: reply sent, close connection
				}
			}
			if decErr != nil {
				s.Logger.Warn("registry: decode error, closing connection", "err", decErr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// dispatch handles one decoded frame and returns true if the connection
// should be closed immediately afterward (auth failure, per spec.md §4.2).
func (s *Server) dispatch(conn net.Conn, p wire.Packet) (closeConn bool) {
	if s.Token != "" && subtle.ConstantTimeCompare([]byte(p.Token), []byte(s.Token)) != 1 {
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("Authentication Failed")}) //nolint:errcheck
		return true
	}

	switch p.Command {
	case wire.RegistryRegister, wire.RegistryHeartbeat:
		addr, free := parseDataHeartbeat(string(p.Data))
		if addr == "" {
			wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("malformed heartbeat")}) //nolint:errcheck
			return false
		}
		s.DataStore.Upsert(addr, free)

	case wire.RegistryGetDatanodes:
		nodes := s.DataStore.List()
		wire.WriteTo(conn, wire.Packet{Command: wire.RegistryResponseDatanodes, Data: []byte(renderDataNodes(nodes))}) //nolint:errcheck

	case wire.RegisterNamenode, wire.HeartbeatNamenode:
		addr := strings.TrimSpace(string(p.Data))
		if addr == "" {
			wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("malformed heartbeat")}) //nolint:errcheck
			return false
		}
		s.NameStore.Upsert(addr, 0)

	case wire.GetNamenodes:
		nodes := s.NameStore.List()
		wire.WriteTo(conn, wire.Packet{Command: wire.ResponseNamenodes, Data: []byte(renderNameNodes(nodes))}) //nolint:errcheck

	default:
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("unknown command")}) //nolint:errcheck
	}
	return false
}

// parseDataHeartbeat parses "addr" or "addr|free" (spec.md §6 command 30/32).
func parseDataHeartbeat(data string) (addr string, freeSpace int64) {
	parts := strings.SplitN(data, "|", 2)
	addr = strings.TrimSpace(parts[0])
	if addr == "" {
		return "", 0
	}
	if len(parts) == 2 {
		if n, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64); err == nil {
			freeSpace = n
		}
	}
	return addr, freeSpace
}

func renderDataNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprintf("%s|%d", n.Address, n.FreeSpace)
	}
	return strings.Join(parts, ",")
}

func renderNameNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.Address
	}
	return strings.Join(parts, ",")
}
