package useragent

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
)

// Version is reported in the client's own User-Agent.
const Version = "1.0"

// Client is the User-Agent sent to the SERP provider API.
var Client = "indexcheck/" + Version + " (+https://github.com/FranksOps/indexcheck)"

// DefaultPool holds browser User-Agents used when fetching sitemaps, feeds
// and pages during URL discovery.
var DefaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// Mode selects how a Pool hands out User-Agents.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeRandom     Mode = "random"
	// ModeFixed always returns the first entry.
	ModeFixed Mode = "fixed"
)

// ParseMode resolves a mode name. Empty means ModeSequential.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSequential, nil
	case ModeSequential, ModeRandom, ModeFixed:
		return m, nil
	default:
		return "", fmt.Errorf("useragent: unknown mode %q", s)
	}
}

// Pool rotates through a fixed set of User-Agents. It is safe for concurrent use.
type Pool struct {
	uas     []string
	mode    Mode
	counter atomic.Uint64
}

// NewPool creates a new User-Agent pool. If the provided slice is empty,
// it falls back to DefaultPool.
func NewPool(uas []string, mode Mode) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	if mode == "" {
		mode = ModeSequential
	}
	// Copy to avoid external mutation
	copied := make([]string, len(uas))
	copy(copied, uas)
	return &Pool{uas: copied, mode: mode}
}

// Next returns a User-Agent according to the pool's mode.
func (p *Pool) Next() string {
	if len(p.uas) == 0 {
		return ""
	}
	switch p.mode {
	case ModeFixed:
		return p.uas[0]
	case ModeRandom:
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
		if err == nil {
			return p.uas[n.Int64()]
		}
		// Fall back to round-robin if crypto/rand fails
	}
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// Len reports the number of User-Agents in the pool.
func (p *Pool) Len() int {
	return len(p.uas)
}
