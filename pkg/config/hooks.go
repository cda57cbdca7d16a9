package config

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
)

// configDecodeHooks composes the custom type conversions this config tree
// needs beyond mapstructure's defaults: ByteSize, the three sentinel
// types, and bare time.Duration (for precache.age_threshold).
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		textUnmarshalerDecodeHook(reflect.TypeOf(ByteSizeOrUnlimited{})),
		textUnmarshalerDecodeHook(reflect.TypeOf(DurationOrUnlimited{})),
		textUnmarshalerDecodeHook(reflect.TypeOf(DurationOrNever{})),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, for
// precache.chunk_size.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings and numbers to time.Duration, for
// precache.age_threshold.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// textUnmarshalerDecodeHook dispatches string config values to a sentinel
// type's own encoding.TextUnmarshaler, so the three "or-sentinel" types
// above each keep a single parsing implementation.
func textUnmarshalerDecodeHook(target reflect.Type) mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		out := reflect.New(target)
		unmarshaler, ok := out.Interface().(interface{ UnmarshalText([]byte) error })
		if !ok {
			return data, nil
		}
		if err := unmarshaler.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		return out.Elem().Interface(), nil
	}
}
