package codec

import (
	"net/http"
	"reflect"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// Replaceable in tests.
var (
	protoUnmarshal = proto.Unmarshal
	protoMarshal   = proto.Marshal
)

// ProtoCodec is a codec that uses Protocol Buffers for marshaling and unmarshaling.
// T and U must be pointers to generated message types.
type ProtoCodec[T proto.Message, U proto.Message] struct {
	settings settings
}

// NewProtoCodec creates a new ProtoCodec instance for the specified types.
// T represents the request type and U represents the response type.
func NewProtoCodec[T proto.Message, U proto.Message](opts ...Option) *ProtoCodec[T, U] {
	return &ProtoCodec[T, U]{settings: newSettings(opts)}
}

// Decode reads the payload and unmarshals it into a new message of type T.
func (c *ProtoCodec[T, U]) Decode(r *http.Request) (T, error) {
	var zero T

	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return zero, errors.New("proto codec requires a pointer message type")
	}
	msg, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, errors.New("failed to create message")
	}

	payload, err := c.settings.payload(r)
	if err != nil {
		return zero, err
	}

	if err := protoUnmarshal(payload, msg); err != nil {
		return zero, errors.Wrap(err, "unmarshal proto")
	}

	return msg, nil
}

// Encode marshals resp into a 200 application/x-protobuf response.
func (c *ProtoCodec[T, U]) Encode(resp U) (*common.Response, error) {
	body, err := protoMarshal(resp)
	if err != nil {
		return nil, errors.Wrap(err, "marshal proto")
	}

	out := common.NewResponse(http.StatusOK, body)
	out.Header.Set("Content-Type", "application/x-protobuf")
	return out, nil
}
