// Package identifier produces the human-readable business identifiers used
// across the bank: account numbers, transaction IDs, and FD/RD numbers. Each
// candidate is collision-checked against the backing store and regenerated on
// a hit, with a bounded attempt budget. The store's uniqueness constraint
// remains the authoritative guard; the check here is a fast path.
package identifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jmercer/bankcore/pkg/models"
)

// ErrExhausted means the attempt budget was spent without finding a free
// identifier. The whole creation request may be retried by the caller.
var ErrExhausted = errors.New("identifier generation attempts exhausted")

const maxAttempts = 10

// ExistsFunc reports whether an identifier is already taken.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// Generator builds candidate identifiers from a kind-specific prefix plus a
// random numeric suffix of fixed width. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func New() *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

func (g *Generator) suffix(width int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	max := 1
	for i := 0; i < width; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", width, g.rnd.Intn(max))
}

func (g *Generator) generate(ctx context.Context, exists ExistsFunc, build func() string) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		candidate := build()
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("identifier existence check: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// AccountNumber returns a free account number: a type prefix plus ten random
// digits, e.g. SAV4834017265.
func (g *Generator) AccountNumber(ctx context.Context, typ models.AccountType, exists ExistsFunc) (string, error) {
	prefix := "SAV"
	if typ == models.AccountTypeCurrent {
		prefix = "CUR"
	}
	return g.generate(ctx, exists, func() string {
		return prefix + g.suffix(5) + g.suffix(5)
	})
}

// TransactionID returns a free transaction ID embedding the current date,
// e.g. TXN20260830482917.
func (g *Generator) TransactionID(ctx context.Context, exists ExistsFunc) (string, error) {
	date := g.now().Format("20060102")
	return g.generate(ctx, exists, func() string {
		return "TXN" + date + g.suffix(6)
	})
}

// DepositNumber returns a free FD/RD number: the product prefix, the current
// year, and a six digit suffix, e.g. FD2026194530.
func (g *Generator) DepositNumber(ctx context.Context, prefix string, exists ExistsFunc) (string, error) {
	year := g.now().Format("2006")
	return g.generate(ctx, exists, func() string {
		return prefix + year + g.suffix(6)
	})
}
