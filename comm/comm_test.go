package comm_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cryolab/golakeshore/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	return ln.Addr().String()
}

func echoPool(t *testing.T, size int, timeout time.Duration) *comm.Pool {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	p := comm.NewPool(size, timeout, maker)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPoolGrowsToCapacity(t *testing.T) {
	const size = 3
	pool := echoPool(t, size, time.Minute)
	for i := 0; i < size; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		if conn == nil {
			t.Fatal("got nil connection")
		}
	}
	if pool.Active() != size {
		t.Errorf("expected %d active connections, got %d", size, pool.Active())
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	pool := echoPool(t, 1, time.Minute)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	conn2, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	if conn2 != conn {
		t.Error("expected the returned connection to be handed out again")
	}
	if pool.Size() != 1 {
		t.Errorf("expected pool size 1, got %d", pool.Size())
	}
	pool.Put(conn2)
}

func TestPoolReturnWithErrorDestroys(t *testing.T) {
	pool := echoPool(t, 1, time.Minute)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Errorf("expected destroyed connection to leave the pool, size %d", pool.Size())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	const size = 3
	pool := echoPool(t, size, time.Minute)
	held := []io.ReadWriter{}
	for i := 0; i < size; i++ {
		rw, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		held = append(held, rw)
	}
	newConn := make(chan io.ReadWriter, 1)
	// now that they are all taken out, try to get a new one
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(100 * time.Millisecond):
	}
	pool.Put(held[0])
	select {
	case <-newConn:
	case <-time.After(time.Second):
		t.Fatal("blocked Get did not receive the returned connection")
	}
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	pool := echoPool(t, 1, 10*time.Millisecond)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	time.Sleep(100 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("expected idle connection to be reclaimed, size %d", pool.Size())
	}
}

func TestPoolReclaimsAfterInterruptedTimer(t *testing.T) {
	pool := echoPool(t, 1, 50*time.Millisecond)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn) // arms the idle timer
	time.Sleep(10 * time.Millisecond)

	// taking the connection back before the timer fires must not
	// strand the reclaim machinery
	conn, err = pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	time.Sleep(200 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("idle connection never reclaimed after Get interrupted the timer, size %d", pool.Size())
	}
}

// rwBuffer is an in-memory ReadWriter with independent read and write sides
type rwBuffer struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (b rwBuffer) Read(p []byte) (int, error)  { return b.in.Read(p) }
func (b rwBuffer) Write(p []byte) (int, error) { return b.out.Write(p) }

func TestTerminatorAppendsOnWrite(t *testing.T) {
	buf := rwBuffer{in: &bytes.Buffer{}, out: &bytes.Buffer{}}
	term := comm.NewTerminator(buf, '\n', []byte("\r\n"))
	n, err := term.Write([]byte("KRDG? 0"))
	if err != nil {
		t.Fatal(err)
	}
	if n != len("KRDG? 0") {
		t.Errorf("expected write count %d, got %d", len("KRDG? 0"), n)
	}
	if got := buf.out.String(); got != "KRDG? 0\r\n" {
		t.Errorf("expected terminated message, got %q", got)
	}
}

func TestTerminatorReadsUntilTerminator(t *testing.T) {
	buf := rwBuffer{in: bytes.NewBufferString("273.15\r\n"), out: &bytes.Buffer{}}
	term := comm.NewTerminator(buf, '\n', []byte("\r\n"))
	p := make([]byte, 64)
	n, err := term.Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(p[:n]); got != "273.15\r\n" {
		t.Errorf("expected full line, got %q", got)
	}
}

func TestTerminatorMissingTerminator(t *testing.T) {
	buf := rwBuffer{in: bytes.NewBufferString("273.15"), out: &bytes.Buffer{}}
	term := comm.NewTerminator(buf, '\n', []byte("\r\n"))
	p := make([]byte, 64)
	_, err := term.Read(p)
	if err == nil {
		t.Fatal("expected an error for an unterminated response")
	}
}
