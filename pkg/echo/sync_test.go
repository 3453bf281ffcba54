package echo

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/portecho/portecho/pkg/client"
)

func TestSyncHandler_HandshakeIdentifiesVariant(t *testing.T) {
	inst := newTestInstance(t, 2)
	port, err := inst.AddPort(NewSyncHandler(inst), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}

	conn := dialEcho(t, port)
	defer conn.Close()

	if got := conn.ServerHeader(); got != SyncServerName {
		t.Fatalf("Server header = %q, want %q", got, SyncServerName)
	}
}

func TestSyncHandler_EchoesTextAndBinary(t *testing.T) {
	inst := newTestInstance(t, 2)
	port, err := inst.AddPort(NewSyncHandler(inst), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}

	conn := dialEcho(t, port)
	defer conn.Close()
	checkEcho(t, conn)
}

func TestSyncHandler_EchoesMessagesInOrder(t *testing.T) {
	inst := newTestInstance(t, 2)
	port, err := inst.AddPort(NewSyncHandler(inst), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}

	conn := dialEcho(t, port)
	defer conn.Close()

	const n = 50
	for i := 0; i < n; i++ {
		if err := conn.SendText([]byte(fmt.Sprintf("msg-%03d", i))); err != nil {
			t.Fatalf("SendText %d: %v", i, err)
		}
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < n; i++ {
		payload, _, err := conn.Recv()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if want := fmt.Sprintf("msg-%03d", i); string(payload) != want {
			t.Fatalf("echo %d = %q, want %q", i, payload, want)
		}
	}
}

// Blocking connections must not tie up pool workers: with a single worker,
// several concurrent connections still make progress because each one runs
// on its own goroutine.
func TestSyncHandler_SingleWorkerServesConcurrentConnections(t *testing.T) {
	inst := newTestInstance(t, 1)
	port, err := inst.AddPort(NewSyncHandler(inst), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}

	conns := make([]*client.Conn, 4)
	for i := range conns {
		conns[i] = dialEcho(t, port)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, len(conns))
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *client.Conn) {
			defer wg.Done()
			msg := fmt.Sprintf("conn-%d", i)
			if err := c.SendText([]byte(msg)); err != nil {
				errs <- fmt.Errorf("conn %d send: %w", i, err)
				return
			}
			c.SetReadDeadline(time.Now().Add(2 * time.Second))
			payload, _, err := c.Recv()
			if err != nil {
				errs <- fmt.Errorf("conn %d recv: %w", i, err)
				return
			}
			if string(payload) != msg {
				errs <- fmt.Errorf("conn %d echo = %q, want %q", i, payload, msg)
			}
		}(i, c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSyncHandler_ClientCloseReleasesConnectionSilently(t *testing.T) {
	inst, rec := newRecordedInstance(t, 2)
	port, err := inst.AddPort(NewSyncHandler(inst), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}

	conn := dialEcho(t, port)
	checkEcho(t, conn)
	waitForGauge(t, inst.Metrics().ActiveConnections, 1)

	conn.Close()
	waitForGauge(t, inst.Metrics().ActiveConnections, 0)

	if msgs := rec.errorMessages(); len(msgs) != 0 {
		t.Fatalf("graceful close produced error diagnostics: %v", msgs)
	}
}

func TestSyncHandler_EnforcesMaxMessageSize(t *testing.T) {
	inst := newTestInstance(t, 2)
	port, err := inst.AddPort(NewSyncHandler(inst, WithMaxMessageSize(16)), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}

	conn := dialEcho(t, port)
	defer conn.Close()

	if err := conn.SendBinary(make([]byte, 64)); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.Recv(); err == nil {
		t.Fatal("oversized message was echoed, want connection drop")
	}
	waitForGauge(t, inst.Metrics().ActiveConnections, 0)
}
