package pipeline

import (
	"context"
	"fmt"
)

// MapTo returns a Mapper that converts a result of type A to B. A result of any
// other type fails the stage.
func MapTo[A, B any](convert func(ctx context.Context, a A) (B, error)) Mapper {
	return func(ctx context.Context, result interface{}) (interface{}, error) {
		a, ok := result.(A)
		if !ok {
			var zero A
			return nil, fmt.Errorf("mapto: expected %T, got %T", zero, result)
		}
		return convert(ctx, a)
	}
}

// ConfigFrom returns a ConfigFactory that builds a config from a previous output
// of type A.
func ConfigFrom[A any](build func(ctx context.Context, previous A) (interface{}, error)) ConfigFactory {
	return func(ctx context.Context, previous interface{}) (interface{}, error) {
		a, ok := previous.(A)
		if !ok {
			var zero A
			return nil, fmt.Errorf("config: expected previous %T, got %T", zero, previous)
		}
		return build(ctx, a)
	}
}

// Identity returns a Mapper that passes the result through unchanged.
func Identity() Mapper {
	return func(ctx context.Context, result interface{}) (interface{}, error) {
		return result, nil
	}
}

// Tap returns a Mapper that calls fn with the result and passes it through.
func Tap(fn func(context.Context, interface{})) Mapper {
	return func(ctx context.Context, result interface{}) (interface{}, error) {
		fn(ctx, result)
		return result, nil
	}
}

// Validate returns a Mapper that passes a result of type T through only if
// predicate accepts it; otherwise the stage fails with errMsg.
func Validate[T any](predicate func(T) bool, errMsg string) Mapper {
	if errMsg == "" {
		errMsg = "validation failed"
	}
	return func(ctx context.Context, result interface{}) (interface{}, error) {
		v, ok := result.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("validate: expected %T, got %T", zero, result)
		}
		if !predicate(v) {
			return nil, fmt.Errorf("%s", errMsg)
		}
		return result, nil
	}
}

// Pick returns a Mapper that extracts key from a map[string]interface{} result,
// as produced by decoding a JSON object.
func Pick(key string) Mapper {
	return func(ctx context.Context, result interface{}) (interface{}, error) {
		m, ok := result.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("pick %q: expected object, got %T", key, result)
		}
		v, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("pick %q: key not found", key)
		}
		return v, nil
	}
}

// Chain returns a Mapper that applies mappers in order.
func Chain(mappers ...Mapper) Mapper {
	return func(ctx context.Context, result interface{}) (interface{}, error) {
		var err error
		for _, m := range mappers {
			if result, err = m(ctx, result); err != nil {
				return nil, err
			}
		}
		return result, nil
	}
}
