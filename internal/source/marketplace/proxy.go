package marketplace

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
)

type Proxy struct {
	Host     string
	Port     string
	Username string
	Password string
}

func (p Proxy) Addr() string {
	return net.JoinHostPort(p.Host, p.Port)
}

func (p Proxy) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: p.Addr()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// ParseProxy reads one "host:port" or "host:port:user:pass" entry.
func ParseProxy(line string) (Proxy, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	switch len(parts) {
	case 2:
		if parts[0] != "" && parts[1] != "" {
			return Proxy{Host: parts[0], Port: parts[1]}, nil
		}
	case 4:
		if parts[0] != "" && parts[1] != "" {
			return Proxy{Host: parts[0], Port: parts[1], Username: parts[2], Password: parts[3]}, nil
		}
	}
	return Proxy{}, fmt.Errorf("malformed proxy entry %q", line)
}

// LoadProxies reads a proxy list file, one entry per line. Blank lines and lines
// starting with '#' are ignored; malformed entries are skipped and reported in
// the returned count.
func LoadProxies(path string) ([]Proxy, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close()

	var (
		proxies []Proxy
		skipped int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseProxy(line)
		if err != nil {
			skipped++
			continue
		}
		proxies = append(proxies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read proxy file: %w", err)
	}

	return proxies, skipped, nil
}

// Pool hands out proxies uniformly at random among those not marked failed in
// the current epoch. An entry is failed when failedIn[i] == epoch, so clearing
// every mark is a single epoch increment.
type Pool struct {
	mu       sync.Mutex
	proxies  []Proxy
	failedIn []uint64
	epoch    uint64
	intn     func(n int) int
	eligible []int
}

// NewPool builds a pool over proxies. intn picks an index in [0, n); nil uses
// math/rand/v2.
func NewPool(proxies []Proxy, intn func(n int) int) *Pool {
	if intn == nil {
		intn = rand.IntN
	}
	return &Pool{
		proxies:  append([]Proxy(nil), proxies...),
		failedIn: make([]uint64, len(proxies)),
		epoch:    1,
		intn:     intn,
		eligible: make([]int, 0, len(proxies)),
	}
}

func (p *Pool) Size() int {
	return len(p.proxies)
}

// Proxy returns the entry at index i.
func (p *Pool) Proxy(i int) Proxy {
	return p.proxies[i]
}

// Pick returns a random eligible proxy index. When every proxy is failed the
// pool starts a new epoch first and reset reports that it did. ok is false only
// for an empty pool.
func (p *Pool) Pick() (i int, reset bool, ok bool) {
	if len(p.proxies) == 0 {
		return 0, false, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.collectEligible()
	if len(p.eligible) == 0 {
		p.epoch++
		reset = true
		p.collectEligible()
	}

	return p.eligible[p.intn(len(p.eligible))], reset, true
}

func (p *Pool) collectEligible() {
	p.eligible = p.eligible[:0]
	for i, gen := range p.failedIn {
		if gen != p.epoch {
			p.eligible = append(p.eligible, i)
		}
	}
}

// MarkFailed excludes proxy i until the next epoch.
func (p *Pool) MarkFailed(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i >= 0 && i < len(p.failedIn) {
		p.failedIn[i] = p.epoch
	}
}

// Available is the number of proxies eligible in the current epoch.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, gen := range p.failedIn {
		if gen != p.epoch {
			n++
		}
	}
	return n
}
