package resultx

// Result carries either a value or an accumulated set of Issues: a flat
// sum type in place of a class hierarchy of error types (§9). Validation
// and risk checks build a Result by accumulating, never short-circuiting.
type Result[T any] struct {
	value  T
	issues Issues
}

// Ok wraps a successful value with no issues.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps a zero value with one or more issues.
func Fail[T any](issues ...Issue) Result[T] {
	return Result[T]{issues: issues}
}

// Valid reports whether the result carries no blocking issues.
func (r Result[T]) Valid() bool {
	return !r.issues.Blocking()
}

// Value returns the wrapped value regardless of issues — callers that only
// care about non-blocking (advisory) issues can still use the value.
func (r Result[T]) Value() T { return r.value }

// Issues returns the accumulated issues (possibly empty).
func (r Result[T]) Issues() Issues { return r.issues }

// Accumulator collects Issues from independent checks run in any order; the
// result is a permutation-invariant function of which checks fired (§8).
type Accumulator struct {
	issues Issues
}

// Add appends zero or more issues to the accumulator.
func (a *Accumulator) Add(issues ...Issue) {
	a.issues = append(a.issues, issues...)
}

// Merge appends another accumulator's issues, preserving encounter order.
func (a *Accumulator) Merge(other Issues) {
	a.issues = append(a.issues, other...)
}

// Issues returns everything accumulated so far.
func (a *Accumulator) Issues() Issues { return a.issues }

// Empty reports whether nothing has been accumulated.
func (a *Accumulator) Empty() bool { return len(a.issues) == 0 }
