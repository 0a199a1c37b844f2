// Package discovery implements the periodic push/pull tasks (C7) Data and
// Name services run against the Registry: spec.md §4.7.
//
// Grounded on golang.org/x/sync/errgroup (named in launix-de-memcp's go.mod
// as an indirect require, the pack's one occurrence of structured
// concurrency beyond a bare sync.WaitGroup) for broadcasting a heartbeat to
// every configured Registry address without one Registry's failure
// cancelling its siblings.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zynqcloud/nimbusfs/internal/admission"
	"github.com/zynqcloud/nimbusfs/internal/wire"
)

// ConnectTimeout bounds every discovery network call (spec.md §4.7: "all
// network I/O is time-bounded (<= 3 s connect)").
const ConnectTimeout = 3 * time.Second

const (
	// DataPushInterval is how often a Data service broadcasts its heartbeat.
	DataPushInterval = 5 * time.Second
	// NamePushInterval is how often a Name service broadcasts its heartbeat.
	NamePushInterval = 10 * time.Second
	// PullInterval is how often a Name service refreshes its Data-set snapshot.
	PullInterval = 10 * time.Second
)

// Client drives the push/pull tasks against a fixed set of Registry
// addresses. One Client per service instance.
type Client struct {
	RegistryAddresses []string
	Token             string
	Logger            *slog.Logger
}

// New builds a discovery Client over the given Registry addresses.
func New(addresses []string, token string, logger *slog.Logger) *Client {
	return &Client{RegistryAddresses: addresses, Token: token, Logger: logger}
}

// RunDataPush broadcasts "address|freeSpace" heartbeats to every Registry
// address every DataPushInterval until ctx is cancelled. freeSpace is
// re-sampled on each tick so the broadcast reflects current disk usage.
func (c *Client) RunDataPush(ctx context.Context, selfAddress string, freeSpace func() int64) {
	tick := func() {
		payload := selfAddress + "|" + strconv.FormatInt(freeSpace(), 10)
		c.broadcast(ctx, wire.RegistryHeartbeat, payload)
	}
	c.runPeriodic(ctx, DataPushInterval, tick)
}

// RunNamePush broadcasts a bare "address" heartbeat to every Registry
// address every NamePushInterval until ctx is cancelled.
func (c *Client) RunNamePush(ctx context.Context, selfAddress string) {
	c.runPeriodic(ctx, NamePushInterval, func() {
		c.broadcast(ctx, wire.HeartbeatNamenode, selfAddress)
	})
}

// RunPull refreshes the Data-set snapshot every PullInterval until ctx is
// cancelled, calling apply with the freshly parsed node list on the first
// Registry address that answers. On total failure the last snapshot is
// retained — apply is simply not called that round (spec.md §4.7).
func (c *Client) RunPull(ctx context.Context, apply func([]admission.DataNode)) {
	c.runPeriodic(ctx, PullInterval, func() { c.pullOnce(ctx, apply) })
}

// runPeriodic fires fn immediately, then on every tick, until ctx is done.
//
// Grounded on internal/registry.RunSweeper's immediate-pass-then-ticker-loop
// shape, itself grounded on the teacher's internal/cleanup.RunPeriodic.
func (c *Client) runPeriodic(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// broadcast opens one short-lived connection per Registry address
// concurrently and sends a fire-and-forget heartbeat frame (spec.md §4.7:
// "Broadcasting makes Registry replicas eventually consistent with no
// gossip"). Every send's error is logged and swallowed — one Registry never
// blocks or cancels another.
func (c *Client) broadcast(ctx context.Context, command wire.Command, payload string) {
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range c.RegistryAddresses {
		addr := addr
		g.Go(func() error {
			if err := c.sendFireAndForget(gctx, addr, command, payload); err != nil {
				c.Logger.Warn("discovery: heartbeat failed", "registry", addr, "err", err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

func (c *Client) sendFireAndForget(ctx context.Context, addr string, command wire.Command, payload string) error {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(ConnectTimeout))
	return wire.WriteTo(conn, wire.Packet{Command: command, Token: c.Token, Data: []byte(payload)})
}

// pullOnce iterates RegistryAddresses in order and applies the first
// successful reply; it never blocks on a dead Registry past ConnectTimeout.
func (c *Client) pullOnce(ctx context.Context, apply func([]admission.DataNode)) {
	for _, addr := range c.RegistryAddresses {
		nodes, err := c.fetchDataNodes(ctx, addr)
		if err != nil {
			c.Logger.Debug("discovery: pull failed", "registry", addr, "err", err)
			continue
		}
		apply(nodes)
		return
	}
	c.Logger.Warn("discovery: all registries unreachable, retaining last snapshot")
}

func (c *Client) fetchDataNodes(ctx context.Context, addr string) ([]admission.DataNode, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ConnectTimeout))

	if err := wire.WriteTo(conn, wire.Packet{Command: wire.RegistryGetDatanodes, Token: c.Token}); err != nil {
		return nil, err
	}

	dec := wire.NewDecoder()
	buf := make([]byte, 16*1024)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			events, decErr := dec.Feed(buf[:n])
			for _, ev := range events {
				if ev.Packet == nil {
					continue
				}
				if ev.Packet.Command == wire.Error {
					return nil, errors.New(string(ev.Packet.Data))
				}
				return parseDataNodes(string(ev.Packet.Data)), nil
			}
			if decErr != nil {
				return nil, decErr
			}
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// parseDataNodes parses the comma-list of "addr|free" the Registry replies
// with for REGISTRY_GET_DATANODES (spec.md §6 command 34).
func parseDataNodes(payload string) []admission.DataNode {
	if payload == "" {
		return nil
	}
	parts := strings.Split(payload, ",")
	nodes := make([]admission.DataNode, 0, len(parts))
	for _, p := range parts {
		fields := strings.SplitN(p, "|", 2)
		if fields[0] == "" {
			continue
		}
		var free int64
		if len(fields) == 2 {
			free, _ = strconv.ParseInt(fields[1], 10, 64)
		}
		nodes = append(nodes, admission.DataNode{Address: fields[0], FreeSpace: free})
	}
	return nodes
}
