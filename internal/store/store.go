// Package store holds the persistence contracts shared by the domain
// services: the transaction coordinator and paging.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type IsoLevel int

const (
	ReadCommitted IsoLevel = iota
	RepeatableRead
	Serializable
)

func (l IsoLevel) String() string {
	switch l {
	case ReadCommitted:
		return "read committed"
	case RepeatableRead:
		return "repeatable read"
	case Serializable:
		return "serializable"
	}
	return fmt.Sprintf("IsoLevel(%d)", int(l))
}

// ParseIsoLevel accepts "read_committed", "repeatable_read" or "serializable"
// in any case, with spaces or dashes in place of the underscore.
func ParseIsoLevel(s string) (IsoLevel, error) {
	n := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case "read_committed":
		return ReadCommitted, nil
	case "repeatable_read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	}
	return 0, fmt.Errorf("unknown isolation level %q", s)
}

// ErrIsolationTooWeak is returned when a nested unit of work asks for a
// stronger isolation level than the transaction it would join.
var ErrIsolationTooWeak = errors.New("ambient transaction isolation is weaker than requested")

// Transactor runs units of work in a transaction. When ctx already carries a
// transaction opened by the same Transactor, fn joins it instead of opening
// a new one; commit and rollback stay with the outermost call.
type Transactor interface {
	RunInTx(ctx context.Context, iso IsoLevel, fn func(ctx context.Context) error) error
}

// Page selects a window of a listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}
