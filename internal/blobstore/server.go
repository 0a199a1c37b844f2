package blobstore

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/zynqcloud/nimbusfs/internal/wire"
)

// Metrics holds process-lifetime atomic counters for the Data service.
// Grounded on the teacher's internal/handler/metrics.go atomic-counter
// shape; there is no HTTP /metrics endpoint here (no HTTP surface exists).
// The counters are kept on Server.Metrics only; nothing in this package or
// in cmd/dataservice logs or exports them.
type Metrics struct {
	UploadsTotal  atomic.Int64
	UploadsFailed atomic.Int64
	DedupHits     atomic.Int64
	BytesWritten  atomic.Int64
	Downloads     atomic.Int64
}

// Server is the Data service's TCP front end: it validates tokens, drives
// ingest/egress through Store, and contains no admission logic (that lives
// entirely on the Name service, per spec.md §4.6 "No business logic beyond
// dispatch").
type Server struct {
	Store   *Store
	Token   string
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewServer builds a Data service server over store.
func NewServer(store *Store, token string, logger *slog.Logger) *Server {
	return &Server{Store: store, Token: token, Logger: logger, Metrics: &Metrics{}}
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

// handleConn processes exactly one request per connection: the client opens
// a connection, sends one control frame (+ stream, for uploads), receives
// one reply, and the connection closes. This matches spec.md §9's guidance
// to avoid correlation IDs by keeping one in-flight request per connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Minute))

	dec := wire.NewDecoder()
	buf := make([]byte, 256*1024)

	var ingest *Ingest
	var received int64
	var pending *wire.Packet

	cleanupOnDisconnect := func() {
		if ingest != nil {
			ingest.Abort()
		}
	}

	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			events, decErr := dec.Feed(buf[:n])
			for _, ev := range events {
				switch {
				case ev.Packet != nil:
					pending = ev.Packet
					if s.Token != "" && subtle.ConstantTimeCompare([]byte(pending.Token), []byte(s.Token)) != 1 {
						wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("Authentication Failed")}) //nolint:errcheck
						cleanupOnDisconnect()
						return
					}
					switch pending.Command {
					case wire.UploadRequest:
						var err error
						ingest, err = s.beginUpload(conn, *pending)
						if err != nil {
							return // error already replied; connection closed
						}
						received = 0
						if pending.StreamLen == 0 {
							if !s.finishUpload(conn, ingest) {
								return
							}
							ingest = nil
						}
					case wire.DownloadRequest:
						s.handleDownload(conn, *pending)
						return
					default:
						wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("unsupported command")}) //nolint:errcheck
						return
					}

				case ev.Stream != nil:
					if ingest == nil {
						continue
					}
					if _, err := ingest.Write(ev.Stream); err != nil {
						s.Logger.Error("blobstore: write failed", "err", err)
						ingest.Abort()
						wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("storage write failed")}) //nolint:errcheck
						return
					}
					received += int64(len(ev.Stream))
					s.Metrics.BytesWritten.Add(int64(len(ev.Stream)))
					if pending != nil && received == pending.StreamLen {
						if !s.finishUpload(conn, ingest) {
							return
						}
						ingest = nil
					}
				}
			}
			if decErr != nil {
				s.Logger.Warn("blobstore: decode error", "err", decErr)
				cleanupOnDisconnect()
				return
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				s.Logger.Debug("blobstore: connection read error", "err", readErr)
			}
			// spec.md §3: connection closed before receivedBytes == streamLen
			// means the temp file is discarded; no reply is sent since the
			// peer already disconnected.
			cleanupOnDisconnect()
			return
		}
	}
}

func (s *Server) beginUpload(conn net.Conn, p wire.Packet) (*Ingest, error) {
	s.Metrics.UploadsTotal.Add(1)
	hash := string(p.Data)
	if err := ValidateHash(hash); err != nil {
		s.Metrics.UploadsFailed.Add(1)
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("non-conformant hash")}) //nolint:errcheck
		return nil, err
	}
	ig, err := s.Store.BeginIngest(hash)
	if err != nil {
		s.Metrics.UploadsFailed.Add(1)
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte(err.Error())}) //nolint:errcheck
		return nil, err
	}
	return ig, nil
}

func (s *Server) finishUpload(conn net.Conn, ig *Ingest) bool {
	isNew, err := ig.Commit()
	if err != nil {
		s.Metrics.UploadsFailed.Add(1)
		s.Logger.Error("blobstore: commit failed", "err", err)
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte("storage write failed")}) //nolint:errcheck
		return false
	}
	msg := "success"
	if !isNew {
		msg = "success (dedup)"
		s.Metrics.DedupHits.Add(1)
	}
	if err := wire.WriteTo(conn, wire.Packet{Command: wire.UploadResponse, Data: []byte(msg)}); err != nil {
		return false
	}
	return true
}

func (s *Server) handleDownload(conn net.Conn, p wire.Packet) {
	hash := string(p.Data)
	rc, size, err := s.Store.Open(hash)
	if err != nil {
		wire.WriteTo(conn, wire.Packet{Command: wire.Error, Data: []byte(fmt.Sprintf("not found: %v", err))}) //nolint:errcheck
		return
	}
	defer rc.Close()

	header := wire.Packet{
		Command:   wire.DownloadResponse,
		Data:      []byte(strconv.FormatInt(size, 10)),
		StreamLen: size,
	}
	if err := wire.WriteTo(conn, header); err != nil {
		return
	}
	s.Metrics.Downloads.Add(1)
	// Zero-copy where the platform supports it: *net.TCPConn implements
	// io.ReaderFrom, and *os.File implements io.WriterTo backed by sendfile
	// on Linux, so io.Copy picks the fast path automatically.
	io.Copy(conn, rc) //nolint:errcheck
}
