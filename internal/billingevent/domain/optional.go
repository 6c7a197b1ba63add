package domain

// Optional is a provider field that may be absent. Absence is distinct from
// the zero value so reconciliation can keep what is already stored.
type Optional[T any] struct {
	value T
	ok    bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

func None[T any]() Optional[T] { return Optional[T]{} }

func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

func (o Optional[T]) IsSome() bool { return o.ok }

// OrElse returns the value when present and fallback otherwise.
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// SomeString treats blank strings as absent.
func SomeString(v string) Optional[string] {
	if v == "" {
		return None[string]()
	}
	return Some(v)
}
