/*Package comm provides connection plumbing for lab hardware.

The expected usage is to build a Pool with a CreationFunc for the
device's transport (serial or TCP), then hand that pool to a
higher-level protocol layer such as package scpi.  The pool holds at
most maxSize connections, gives them out one at a time, and closes idle
connections after a timeout so that a device is not held open forever
by a program that has gone quiet.
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something.
// a closure should be used to encapsulate the variables and functions needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// backoffPolicy is the retry schedule used when opening connections.
// some devices (and terminal servers) do not like being connection
// thrashed, so the interval grows exponentially.
func backoffPolicy() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by cfg, retrying with backoff.
func SerialConnMaker(cfg *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn *serial.Port
		op := func() error {
			var err error
			conn, err = serial.OpenPort(cfg)
			return err
		}
		err := backoff.Retry(op, backoffPolicy())
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
		}
		return conn, nil
	}
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr,
// retrying with backoff.  The timeout applies to each dial attempt.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = net.DialTimeout("tcp", addr, timeout)
			return err
		}
		err := backoff.Retry(op, backoffPolicy())
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}
}

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after all connections are idle to free them
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer             // timer used to destroy connections after all are returned
	maker   CreationFunc

	reclaiming  bool          // whether startReclaim's goroutine is running
	reclaimStop chan struct{} // closed to unpark that goroutine early
	mu          *sync.Mutex
}

// NewPool creates a new Pool holding up to maxSize connections, closing
// idle ones after timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
		mu:      &sync.Mutex{},
	}
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.  The consumer should not attempt to cast it to its
// concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put, or discard it with
// Destroy if it has become no good (e.g., all calls error).
// ReturnWithError does the right thing in either case.
//
// If the error from Get is not nil, you must not return the value
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.stopReclaim()

	p.mu.Lock()
	// short circuit: if a connection is available, immediately return it
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	// check if they're all given out
	if p.onLease == p.maxSize {
		// release the lock so Put can run, then wait for a return
		p.mu.Unlock()
		ret := <-p.conns
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	// no connection available and not all given out; make one
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	p.mu.Unlock()
	return c, err
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk communicators (ones that always error) should be
// Destroy'd and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	p.conns <- rwc
	p.mu.Lock()
	p.onLease--
	idle := p.onLease == 0
	p.mu.Unlock()
	if idle {
		p.startReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError sends the communicator back with Put if err is nil,
// else Destroy.  A nil rw is ignored, which allows deferred returns from
// functions that may not have gotten a connection at all.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if rw == nil {
		return
	}
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close closes all idle connections held by the pool.  Connections
// currently on lease are the holder's problem.
func (p *Pool) Close() error {
	p.stopReclaim()
	var err error
	for {
		select {
		case c := <-p.conns:
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		default:
			return err
		}
	}
}

// startReclaim arms the idle timer; when it fires, all pooled
// connections are closed.  The goroutine also watches a stop channel
// so that stopReclaim can unpark it, otherwise an interrupted timer
// would strand it on timer.C with the reclaiming flag stuck true.
func (p *Pool) startReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	stop := make(chan struct{})
	p.reclaimStop = stop
	p.timer.Reset(p.timeout)
	go func() {
		select {
		case <-p.timer.C:
		case <-stop:
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.reclaiming {
			// stopReclaim won the race between the timer firing
			// and this goroutine taking the lock
			return
		}
		for {
			select {
			case c := <-p.conns:
				c.Close()
			default:
				p.reclaiming = false
				return
			}
		}
	}()
}

// stopReclaim disarms the idle timer and releases the reclaim
// goroutine, so a later idle period can arm a fresh one.
func (p *Pool) stopReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reclaiming {
		close(p.reclaimStop)
		p.reclaiming = false
	}
	if !p.timer.Stop() {
		// drain a fire that beat the Stop, so Reset starts clean
		select {
		case <-p.timer.C:
		default:
		}
	}
}
