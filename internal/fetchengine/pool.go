package fetchengine

import (
	"fmt"
	"net"
	"sync"
)

// connKey identifies a reusable tunnel: the proxy, the target, and whether
// it carries TLS.
type connKey struct {
	proxy  string
	host   string
	port   int
	useTLS bool
}

func (k connKey) String() string {
	return fmt.Sprintf("%s->%s:%d(tls=%v)", k.proxy, k.host, k.port, k.useTLS)
}

// ConnPool keeps idle, already-negotiated tunnels keyed by destination for
// reuse, in the same sync.Pool idiom the teacher uses for byte-slice reuse
// (internal/proxy/pool.go's bufferPool), generalized from a single
// size-keyed []byte pool to many connKey-keyed net.Conn pools.
//
// Do never consults a ConnPool: every request sets Connection: close and
// dials fresh, per spec.md 4.4. A ConnPool only exists for a caller that
// wants to issue many requests to the same destination outside Do's
// per-call lifecycle; it is otherwise dormant.
type ConnPool struct {
	mu    sync.Mutex
	pools map[connKey]*sync.Pool
}

// NewConnPool returns an empty, ready-to-use pool.
func NewConnPool() *ConnPool {
	return &ConnPool{pools: make(map[connKey]*sync.Pool)}
}

func (p *ConnPool) poolFor(k connKey) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.pools[k]
	if !ok {
		sp = &sync.Pool{}
		p.pools[k] = sp
	}
	return sp
}

// Get returns an idle conn for key, or nil if none is pooled.
func (p *ConnPool) Get(proxy, host string, port int, useTLS bool) net.Conn {
	k := connKey{proxy: proxy, host: host, port: port, useTLS: useTLS}
	v := p.poolFor(k).Get()
	if v == nil {
		return nil
	}
	return v.(net.Conn)
}

// Put returns conn to the pool for later reuse. Callers must not use conn
// again after Put unless they Get it back out.
func (p *ConnPool) Put(proxy, host string, port int, useTLS bool, conn net.Conn) {
	k := connKey{proxy: proxy, host: host, port: port, useTLS: useTLS}
	p.poolFor(k).Put(conn)
}
