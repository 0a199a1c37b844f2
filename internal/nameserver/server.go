// Package nameserver is the Name service's TCP front end (C6): it
// dispatches decoded frames to the admission controller by command code,
// validates the bearer token, and serializes replies. It owns no admission
// state itself — "No business logic beyond dispatch; all hard decisions
// live in C5" (spec.md §4.6).
package nameserver

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/zynqcloud/nimbusfs/internal/admission"
	"github.com/zynqcloud/nimbusfs/internal/wire"
)

// Server is the Name service's TCP front end.
//
// Grounded on internal/registry.Server's accept-loop/token-check/dispatch
// shape, itself grounded on the teacher's cmd/server/main.go shutdown
// pattern and middleware.ServiceToken's constant-time compare.
type Server struct {
	Controller *admission.Controller
	Token      string
	Logger     *slog.Logger
	Metrics    *Metrics
	limiter    *ConnLimiter
}

// NewServer builds a Name service server around an already-constructed
// admission controller.
func NewServer(controller *admission.Controller, token string, logger *slog.Logger) *Server {
	return &Server{
		Controller: controller,
		Token:      token,
		Logger:     logger,
		Metrics:    &Metrics{},
		limiter:    NewConnLimiter(0),
	}
}

// MetricsLogInterval is how often RunMetricsLog emits a counters snapshot.
const MetricsLogInterval = 60 * time.Second

// RunMetricsLog periodically logs a snapshot of s.Metrics until ctx is
// cancelled, grounded on internal/blobstore.Store.RunGC's fixed-interval
// background-goroutine shape.
func (s *Server) RunMetricsLog(ctx context.Context) {
	ticker := time.NewTicker(MetricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := s.Metrics.Snapshot()
			s.Logger.Info("nameserver: metrics",
				"requests_total", snap.RequestsTotal,
				"allow", snap.AllowCount,
				"wait", snap.WaitCount,
				"exist", snap.ExistCount,
				"commit", snap.CommitCount,
				"errors", snap.ErrorCount,
				"rejected", snap.Rejected,
			)
		case <-ctx.Done():
			return
		}
	}
}

// Serve accepts connections on ln until ctx is cancelled.
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

// handleConn processes one request per connection: Name service frames
// never carry a stream payload, so a single decoded Packet is enough to
// dispatch and reply (spec.md §9: "one in-flight request per connection on
// the client, no correlation IDs needed").
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if !s.limiter.TryAcquire() {
		s.Metrics.Rejected.Add(1)
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("server at capacity")}) //nolint:errcheck
		s.Logger.Warn("nameserver: connection rejected", "reason", "capacity", "active", s.limiter.Active())
		return
	}
	defer s.limiter.Release()

	conn.SetDeadline(time.Now().Add(30 * time.Second))

	dec := wire.NewDecoder()
	buf := make([]byte, 64*1024)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			events, decErr := dec.Feed(buf[:n])
			for _, ev := range events {
				if ev.Packet == nil {
					continue // no Name-service command carries a stream
				}
				s.dispatch(conn, *ev.Packet)
				return
			}
			if decErr != nil {
				s.Logger.Warn("nameserver: decode error", "err", decErr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// dispatch routes one decoded frame to its handler and emits a single
// structured log line describing the outcome, grounded on the teacher's
// internal/middleware/logging.go RequestLog (one JSON line per request,
// method/status/duration there; command/outcome/duration here).
func (s *Server) dispatch(conn net.Conn, p wire.Packet) {
	start := time.Now()
	s.Metrics.RequestsTotal.Add(1)

	if s.Token != "" && subtle.ConstantTimeCompare([]byte(p.Token), []byte(s.Token)) != 1 {
		s.Metrics.ErrorCount.Add(1)
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("Authentication Failed")}) //nolint:errcheck
		s.logFrame(conn, p.Command, "auth_failed", start)
		return
	}

	ctx := context.Background()
	outcome := "ok"

	switch p.Command {
	case wire.RequestUploadLoc:
		s.handleRequestUploadLoc(conn)

	case wire.CommitFile:
		outcome = s.handleCommit(ctx, conn, p)

	case wire.RequestDownloadLoc:
		s.handleRequestDownloadLoc(ctx, conn, p)

	case wire.PreUpload:
		outcome = s.handlePreUpload(ctx, conn, p)

	default:
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("unknown command")}) //nolint:errcheck
		s.Metrics.ErrorCount.Add(1)
		outcome = "unknown_command"
	}

	s.logFrame(conn, p.Command, outcome, start)
}

func (s *Server) logFrame(conn net.Conn, command wire.Command, outcome string, start time.Time) {
	s.Logger.Info("nameserver: request",
		"command", command,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
		"remote_addr", conn.RemoteAddr().String(),
	)
}

func (s *Server) handleRequestUploadLoc(conn net.Conn) {
	addr, err := s.Controller.ChooseUploadLocation()
	if err != nil {
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte(err.Error())}) //nolint:errcheck
		return
	}
	wire.WriteTo(conn, wire.Packet{Command: wire.ResponseUploadLoc, Data: []byte(addr)}) //nolint:errcheck
}

func (s *Server) handleCommit(ctx context.Context, conn net.Conn, p wire.Packet) string {
	filename, hash, location, ok := parseCommitPayload(string(p.Data))
	if !ok {
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("malformed commit payload")}) //nolint:errcheck
		s.Metrics.ErrorCount.Add(1)
		return "malformed_payload"
	}

	d := s.Controller.Commit(ctx, filename, hash, location)
	switch d.Outcome {
	case admission.Committed:
		wire.WriteTo(conn, wire.Packet{Command: wire.ResponseCommit, Data: []byte(d.StorageID)}) //nolint:errcheck
		s.Metrics.CommitCount.Add(1)
		return "committed"
	default:
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte(d.Reason)}) //nolint:errcheck
		s.Metrics.ErrorCount.Add(1)
		return "error"
	}
}

func (s *Server) handleRequestDownloadLoc(ctx context.Context, conn net.Conn, p wire.Packet) {
	filename, hash, location, err := s.Controller.ResolveDownload(ctx, string(p.Data))
	if err != nil {
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte(err.Error())}) //nolint:errcheck
		return
	}
	payload := strings.Join([]string{filename, hash, location}, "|")
	wire.WriteTo(conn, wire.Packet{Command: wire.ResponseDownloadLoc, Data: []byte(payload)}) //nolint:errcheck
}

func (s *Server) handlePreUpload(ctx context.Context, conn net.Conn, p wire.Packet) string {
	d := s.Controller.PreUpload(ctx, string(p.Data))
	switch d.Outcome {
	case admission.Exist:
		wire.WriteTo(conn, wire.Packet{Command: wire.ResponseExist, Data: []byte(d.Location)}) //nolint:errcheck
		s.Metrics.ExistCount.Add(1)
		return "exist"
	case admission.Allow:
		s.Metrics.AllowCount.Add(1)
		wire.WriteTo(conn, wire.Packet{Command: wire.ResponseAllow, Data: []byte("OK")}) //nolint:errcheck
		return "allow"
	case admission.Wait:
		wire.WriteTo(conn, wire.Packet{Command: wire.ResponseWait, Data: []byte("retry later")}) //nolint:errcheck
		s.Metrics.WaitCount.Add(1)
		return "wait"
	default:
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte(d.Reason)}) //nolint:errcheck
		s.Metrics.ErrorCount.Add(1)
		return "error"
	}
}

// parseCommitPayload parses "filename|hash|address" (spec.md §6 command 12).
func parseCommitPayload(data string) (filename, hash, address string, ok bool) {
	parts := strings.SplitN(data, "|", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
