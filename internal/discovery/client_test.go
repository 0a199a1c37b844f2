package discovery_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/zynqcloud/nimbusfs/internal/admission"
	"github.com/zynqcloud/nimbusfs/internal/discovery"
	"github.com/zynqcloud/nimbusfs/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRegistry(t *testing.T) (*registry.Server, net.Addr) {
	t.Helper()
	srv := registry.NewServer(registry.DefaultTimeout, "", testLogger())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln) //nolint:errcheck
	return srv, ln.Addr()
}

func TestDataPushRegistersWithRegistry(t *testing.T) {
	srv, addr := startRegistry(t)
	client := discovery.New([]string{addr.String()}, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.RunDataPush(ctx, "data1:9000", func() int64 { return 12345 })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if nodes := srv.DataStore.List(); len(nodes) == 1 && nodes[0].Address == "data1:9000" {
			if nodes[0].FreeSpace != 12345 {
				t.Fatalf("expected free space 12345, got %d", nodes[0].FreeSpace)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("data1:9000 never appeared in registry within timeout")
}

func TestNamePushRegistersWithRegistry(t *testing.T) {
	srv, addr := startRegistry(t)
	client := discovery.New([]string{addr.String()}, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.RunNamePush(ctx, "name1:9100")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if nodes := srv.NameStore.List(); len(nodes) == 1 && nodes[0].Address == "name1:9100" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("name1:9100 never appeared in registry within timeout")
}

func TestPullAppliesSnapshotFromFirstRegistry(t *testing.T) {
	srv, addr := startRegistry(t)
	srv.DataStore.Upsert("data1:9000", 500)
	srv.DataStore.Upsert("data2:9000", 1500)

	client := discovery.New([]string{addr.String()}, "", testLogger())

	var got []admission.DataNode
	applied := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.RunPull(ctx, func(nodes []admission.DataNode) {
		got = nodes
		select {
		case applied <- struct{}{}:
		default:
		}
	})

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot never applied")
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 nodes, got %d: %v", len(got), got)
	}
}

func TestPullFallsThroughDeadRegistries(t *testing.T) {
	srv, liveAddr := startRegistry(t)
	srv.DataStore.Upsert("data1:9000", 500)

	// Unreachable address first, live Registry second — pull must fall
	// through without blocking past ConnectTimeout.
	deadAddr := "127.0.0.1:1" // reserved, nothing listens here
	client := discovery.New([]string{deadAddr, liveAddr.String()}, "", testLogger())

	applied := make(chan []admission.DataNode, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.RunPull(ctx, func(nodes []admission.DataNode) {
		select {
		case applied <- nodes:
		default:
		}
	})

	select {
	case nodes := <-applied:
		if len(nodes) != 1 || nodes[0].Address != "data1:9000" {
			t.Fatalf("unexpected nodes: %v", nodes)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot never applied despite a live registry")
	}
}
