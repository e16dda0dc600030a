package session

import "context"

// DataAs reads a session-scoped value and asserts it to T. A missing
// session, a missing key, or a type mismatch all report absence rather
// than failing, preserving the any-shaped-value contract of the data bag.
func DataAs[T any](ctx context.Context, reg Registry, id, key string) (T, bool, error) {
	var zero T

	value, ok, err := reg.GetData(ctx, id, key)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}

	typed, ok := value.(T)
	if !ok {
		return zero, false, nil
	}
	return typed, true, nil
}
