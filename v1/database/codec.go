package database

import (
	"context"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// CodecSerializer is the GORM serializer name that encodes a column with the
// codec of the Database running the statement. Use it on JSON columns:
//
//	type Document struct {
//	    ID   uint
//	    Tags []string `gorm:"serializer:codec"`
//	}
const CodecSerializer = "codec"

// Codec encodes structured column values.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// CodecFuncs adapts a marshal/unmarshal function pair to Codec.
type CodecFuncs struct {
	MarshalFunc   func(v interface{}) ([]byte, error)
	UnmarshalFunc func(data []byte, v interface{}) error
}

func (c CodecFuncs) Marshal(v interface{}) ([]byte, error) {
	return c.MarshalFunc(v)
}

func (c CodecFuncs) Unmarshal(data []byte, v interface{}) error {
	return c.UnmarshalFunc(data, v)
}

// JSONCodec is the default codec, backed by github.com/goccy/go-json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

const codecPluginName = "sqlscope:codec"

func init() {
	schema.RegisterSerializer(CodecSerializer, codecSerializer{})
}

// codecKey carries the *codecPlugin of the Database running a statement.
type codecKey struct{}

// codecPlugin publishes the Database codec in the context of every
// statement. GORM's serializer table is process-wide, so the codec travels
// with the statement instead.
type codecPlugin struct {
	codec Codec
}

func newCodecPlugin(codec Codec) *codecPlugin {
	return &codecPlugin{codec: codec}
}

func (p *codecPlugin) Name() string {
	return codecPluginName
}

func (p *codecPlugin) Initialize(db *gorm.DB) error {
	callbacks := db.Callback()
	register := []struct {
		operation string
		err       error
	}{
		{"create", callbacks.Create().Before("*").Register("sqlscope:codec_create", p.bind)},
		{"query", callbacks.Query().Before("*").Register("sqlscope:codec_query", p.bind)},
		{"update", callbacks.Update().Before("*").Register("sqlscope:codec_update", p.bind)},
		{"delete", callbacks.Delete().Before("*").Register("sqlscope:codec_delete", p.bind)},
		{"row", callbacks.Row().Before("*").Register("sqlscope:codec_row", p.bind)},
		{"raw", callbacks.Raw().Before("*").Register("sqlscope:codec_raw", p.bind)},
	}

	for _, r := range register {
		if r.err != nil {
			return fmt.Errorf("failed to register %s codec callback: %w", r.operation, r.err)
		}
	}
	return nil
}

func (p *codecPlugin) bind(tx *gorm.DB) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if bound, _ := ctx.Value(codecKey{}).(*codecPlugin); bound == p {
		return
	}
	tx.Statement.Context = context.WithValue(ctx, codecKey{}, p)
}

// codecFromContext returns the codec bound to ctx, JSONCodec when none is.
func codecFromContext(ctx context.Context) Codec {
	if ctx != nil {
		if p, ok := ctx.Value(codecKey{}).(*codecPlugin); ok && p.codec != nil {
			return p.codec
		}
	}
	return JSONCodec{}
}

// codecSerializer bridges the statement's Codec to schema.SerializerInterface.
type codecSerializer struct{}

func (s codecSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	fieldValue := reflect.New(field.FieldType)

	if dbValue != nil {
		var raw []byte
		switch v := dbValue.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return fmt.Errorf("%w: cannot decode %T into %s", ErrInvalidData, dbValue, field.Name)
		}

		if len(raw) > 0 {
			if err := codecFromContext(ctx).Unmarshal(raw, fieldValue.Interface()); err != nil {
				return fmt.Errorf("%w: decode %s: %w", ErrInvalidData, field.Name, err)
			}
		}
	}

	field.ReflectValueOf(ctx, dst).Set(fieldValue.Elem())
	return nil
}

func (s codecSerializer) Value(ctx context.Context, field *schema.Field, _ reflect.Value, fieldValue interface{}) (interface{}, error) {
	raw, err := codecFromContext(ctx).Marshal(fieldValue)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrInvalidData, field.Name, err)
	}
	if string(raw) == "null" {
		if field.NotNull {
			return "", nil
		}
		return nil, nil
	}
	return string(raw), nil
}
