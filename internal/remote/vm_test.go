package remote

import (
	"context"
	"log/slog"
	"testing"

	"golang.org/x/crypto/ssh"
)

type fakeHost struct {
	addr   string
	closed bool
}

func (f *fakeHost) NewSession() (*ssh.Session, error) { return nil, nil }
func (f *fakeHost) Close() error {
	f.closed = true
	return nil
}

// vmChannelWith returns a channel whose port resolution and dialing are
// scripted. ports is consumed one entry per Exec call.
func vmChannelWith(ports []int) (*VMChannel, *[]int, *[]*fakeHost) {
	resolved := &[]int{}
	dialed := &[]*fakeHost{}
	c := NewVMChannel("pinacle", "pinacle", "", slog.New(slog.DiscardHandler))
	c.resolvePort = func(ctx context.Context) (int, error) {
		port := ports[len(*resolved)]
		*resolved = append(*resolved, port)
		return port, nil
	}
	c.dial = func(addr string) (sessionHost, error) {
		host := &fakeHost{addr: addr}
		*dialed = append(*dialed, host)
		return host, nil
	}
	c.run = func(ctx context.Context, host sessionHost, command string) (Result, error) {
		return Result{Stdout: "ok"}, nil
	}
	return c, resolved, dialed
}

func TestVMChannelResolvesPortOnEveryCall(t *testing.T) {
	c, resolved, dialed := vmChannelWith([]int{60022, 60022})

	for i := 0; i < 2; i++ {
		if _, err := c.Exec(context.Background(), "uptime", ExecOptions{}); err != nil {
			t.Fatalf("Exec %d returned error: %v", i, err)
		}
	}
	if len(*resolved) != 2 {
		t.Fatalf("port resolved %d times over 2 calls, want 2", len(*resolved))
	}
	if len(*dialed) != 1 {
		t.Fatalf("dialed %d times for an unchanged port, want 1", len(*dialed))
	}
}

func TestVMChannelRedialsWhenPortMoves(t *testing.T) {
	c, _, dialed := vmChannelWith([]int{60022, 60199})

	for i := 0; i < 2; i++ {
		if _, err := c.Exec(context.Background(), "uptime", ExecOptions{}); err != nil {
			t.Fatalf("Exec %d returned error: %v", i, err)
		}
	}
	if len(*dialed) != 2 {
		t.Fatalf("dialed %d times across a port move, want 2", len(*dialed))
	}
	if got := (*dialed)[1].addr; got != "127.0.0.1:60199" {
		t.Fatalf("second dial went to %s, want 127.0.0.1:60199", got)
	}
	if !(*dialed)[0].closed {
		t.Fatal("stale connection left open after the port moved")
	}
}
