// Package criteria implements composable boolean predicates over an entity type.
//
// A Criterion is a closed tagged tree: Always, Never, And, Or, Not and Leaf.
// Trees are evaluated in memory with IsSatisfiedBy and can be walked by storage
// layers (see Walk) to produce query filters from the same definition.
package criteria

import "fmt"

// Kind tags the variant held by a Criterion.
type Kind int

const (
	KindAlways Kind = iota
	KindNever
	KindAnd
	KindOr
	KindNot
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindAlways:
		return "always"
	case KindNever:
		return "never"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	case KindNot:
		return "not"
	case KindLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Leaf is a primitive predicate. Storage adapters type-switch on concrete leaves.
type Leaf[T any] interface {
	IsSatisfiedBy(T) bool
}

// Func adapts a plain function to Leaf. Storage adapters cannot translate it.
type Func[T any] func(T) bool

func (f Func[T]) IsSatisfiedBy(v T) bool { return f(v) }

// Criterion is an immutable predicate tree. The zero value behaves as All.
type Criterion[T any] struct {
	kind        Kind
	left, right *Criterion[T]
	leaf        Leaf[T]
}

// All matches every entity.
func All[T any]() Criterion[T] { return Criterion[T]{kind: KindAlways} }

// None matches no entity.
func None[T any]() Criterion[T] { return Criterion[T]{kind: KindNever} }

// Match wraps a leaf predicate.
func Match[T any](leaf Leaf[T]) Criterion[T] {
	if leaf == nil {
		return All[T]()
	}
	return Criterion[T]{kind: KindLeaf, leaf: leaf}
}

// Where wraps a function as a leaf predicate.
func Where[T any](fn func(T) bool) Criterion[T] {
	return Match[T](Func[T](fn))
}

func (c Criterion[T]) Kind() Kind { return c.kind }

func (c Criterion[T]) IsAll() bool { return c.kind == KindAlways }

func (c Criterion[T]) IsNone() bool { return c.kind == KindNever }

// Operands returns the children of And/Or (both) and Not (left only).
func (c Criterion[T]) Operands() (left, right Criterion[T]) {
	if c.left != nil {
		left = *c.left
	}
	if c.right != nil {
		right = *c.right
	}
	return left, right
}

// Leaf returns the wrapped predicate for KindLeaf and nil otherwise.
func (c Criterion[T]) Leaf() Leaf[T] { return c.leaf }

// And conjoins c with other.
// x.And(All) == x, All.And(x) == x, and anything joined with None is None.
func (c Criterion[T]) And(other Criterion[T]) Criterion[T] {
	switch {
	case other.kind == KindAlways:
		return c
	case c.kind == KindAlways:
		return other
	case c.kind == KindNever || other.kind == KindNever:
		return None[T]()
	}
	return Criterion[T]{kind: KindAnd, left: &c, right: &other}
}

// Or disjoins c with other.
// x.Or(All) == All, All.Or(x) == All, and None is the identity.
func (c Criterion[T]) Or(other Criterion[T]) Criterion[T] {
	switch {
	case c.kind == KindAlways || other.kind == KindAlways:
		return All[T]()
	case c.kind == KindNever:
		return other
	case other.kind == KindNever:
		return c
	}
	return Criterion[T]{kind: KindOr, left: &c, right: &other}
}

// Not negates c.
func (c Criterion[T]) Not() Criterion[T] {
	switch c.kind {
	case KindAlways:
		return None[T]()
	case KindNever:
		return All[T]()
	case KindNot:
		return *c.left
	}
	return Criterion[T]{kind: KindNot, left: &c}
}

// IsSatisfiedBy evaluates the tree against v.
func (c Criterion[T]) IsSatisfiedBy(v T) bool {
	switch c.kind {
	case KindAlways:
		return true
	case KindNever:
		return false
	case KindAnd:
		return c.left.IsSatisfiedBy(v) && c.right.IsSatisfiedBy(v)
	case KindOr:
		return c.left.IsSatisfiedBy(v) || c.right.IsSatisfiedBy(v)
	case KindNot:
		return !c.left.IsSatisfiedBy(v)
	case KindLeaf:
		return c.leaf.IsSatisfiedBy(v)
	}
	return false
}

// Filter returns the elements of items that satisfy c, preserving order.
func Filter[T any](c Criterion[T], items []T) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if c.IsSatisfiedBy(it) {
			out = append(out, it)
		}
	}
	return out
}

// Visitor folds a Criterion into another representation, e.g. a SQL fragment.
type Visitor[T, R any] struct {
	Always func() (R, error)
	Never  func() (R, error)
	And    func(left, right R) (R, error)
	Or     func(left, right R) (R, error)
	Not    func(inner R) (R, error)
	Leaf   func(Leaf[T]) (R, error)
}

// Walk folds c bottom-up using v.
func Walk[T, R any](c Criterion[T], v Visitor[T, R]) (R, error) {
	var zero R
	switch c.kind {
	case KindAlways:
		return v.Always()
	case KindNever:
		return v.Never()
	case KindLeaf:
		return v.Leaf(c.leaf)
	case KindNot:
		inner, err := Walk(*c.left, v)
		if err != nil {
			return zero, err
		}
		return v.Not(inner)
	case KindAnd, KindOr:
		l, err := Walk(*c.left, v)
		if err != nil {
			return zero, err
		}
		r, err := Walk(*c.right, v)
		if err != nil {
			return zero, err
		}
		if c.kind == KindAnd {
			return v.And(l, r)
		}
		return v.Or(l, r)
	}
	return zero, fmt.Errorf("criteria: unknown kind %s", c.kind)
}
