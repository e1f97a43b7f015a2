package retry

import "context"

// DoWithResult is a type-safe wrapper around Retryer.Do for operations that
// produce a value.
//
// Usage:
//
//	found, err := retry.DoWithResult(ctx, r, "batch-get", func(ctx context.Context) (map[string]bool, error) {
//	    return store.Exists(ctx, index, ids)
//	})
func DoWithResult[T any](ctx context.Context, r Retryer, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
