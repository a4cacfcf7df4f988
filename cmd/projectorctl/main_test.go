package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// fakeProjector emulates the control port: boot and shutdown flip the
// power state, the status query reports it.
type fakeProjector struct {
	port int
	on   atomic.Bool
}

func newFakeProjector(t *testing.T, on bool) *fakeProjector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	f := &fakeProjector{port: ln.Addr().(*net.TCPAddr).Port}
	f.on.Store(on)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeProjector) serve(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		switch {
		case strings.Contains(line, "150 1"):
			if f.on.Load() {
				fmt.Fprint(c, "Ok1\r\n")
			} else {
				fmt.Fprint(c, "Ok0\r\n")
			}
		case strings.HasSuffix(strings.TrimSpace(line), "00 1"):
			f.on.Store(true)
			fmt.Fprint(c, "P\r\n")
		case strings.HasSuffix(strings.TrimSpace(line), "00 2"):
			f.on.Store(false)
			fmt.Fprint(c, "P\r\n")
		default:
			fmt.Fprint(c, "F\r\n")
		}
	}
}

func execute(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestFlagDefaults(t *testing.T) {
	root := newRootCmd()
	flags := root.PersistentFlags()

	tests := []struct {
		name string
		want string
	}{
		{"port", strconv.Itoa(projector.DefaultPort)},
		{"unit", strconv.Itoa(projector.DefaultUnitID)},
		{"baud", strconv.Itoa(projector.DefaultBaudRate)},
		{"timeout", "10s"},
		{"address", ""},
		{"serial", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := flags.Lookup(tt.name)
			if f == nil {
				t.Fatalf("flag %q not registered", tt.name)
			}
			if f.DefValue != tt.want {
				t.Errorf("default = %q, want %q", f.DefValue, tt.want)
			}
		})
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"status", "on", "off", "watch"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found (err=%v)", name, err)
		}
	}
}

func TestStatus_RequiresTarget(t *testing.T) {
	_, err := execute(context.Background(), "status")
	if err == nil || !strings.Contains(err.Error(), "--address") {
		t.Fatalf("err = %v, want missing target error", err)
	}
}

func TestStatus_PrintsPower(t *testing.T) {
	tests := []struct {
		on   bool
		want string
	}{
		{true, "on"},
		{false, "off"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			f := newFakeProjector(t, tt.on)
			out, err := execute(context.Background(),
				"status", "--address", "127.0.0.1", "--port", strconv.Itoa(f.port), "--timeout", "3s")
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestStatus_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = execute(context.Background(),
		"status", "--address", "127.0.0.1", "--port", strconv.Itoa(port), "--timeout", "300ms")
	if err == nil {
		t.Fatal("expected error for closed port")
	}
}

func TestPower_OnAndOff(t *testing.T) {
	f := newFakeProjector(t, false)
	port := strconv.Itoa(f.port)

	out, err := execute(context.Background(), "on", "-a", "127.0.0.1", "-p", port, "-t", "3s")
	if err != nil {
		t.Fatalf("on: %v", err)
	}
	if !strings.HasPrefix(out, "on") {
		t.Errorf("output = %q", out)
	}
	if !f.on.Load() {
		t.Error("projector not switched on")
	}

	if _, err := execute(context.Background(), "off", "-a", "127.0.0.1", "-p", port, "-t", "3s"); err != nil {
		t.Fatalf("off: %v", err)
	}
	if f.on.Load() {
		t.Error("projector not switched off")
	}
}

func TestWatch_PrintsUntilCancelled(t *testing.T) {
	f := newFakeProjector(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := execute(ctx, "watch", "-a", "127.0.0.1", "-p", strconv.Itoa(f.port))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasSuffix(lines[0], "link  connecting") {
		t.Errorf("first line = %q, want the initial connecting transition", lines[0])
	}
	if !strings.Contains(out, "link  connected") {
		t.Errorf("output missing link change: %q", out)
	}
	if !strings.Contains(out, "power on") {
		t.Errorf("output missing power change: %q", out)
	}
}
