package codec

import (
	"net/http"
	"reflect"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// JSONCodec is a codec that uses JSON for marshaling and unmarshaling.
// Decoded structs are checked against their `validate` tags.
type JSONCodec[T any, U any] struct {
	settings  settings
	validator *validator.Validate
}

// NewJSONCodec creates a new JSONCodec instance for the specified types.
// T represents the request type and U represents the response type.
func NewJSONCodec[T any, U any](opts ...Option) *JSONCodec[T, U] {
	return &JSONCodec[T, U]{
		settings:  newSettings(opts),
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Decode reads the payload and unmarshals it into a value of type T.
func (c *JSONCodec[T, U]) Decode(r *http.Request) (T, error) {
	var data T

	payload, err := c.settings.payload(r)
	if err != nil {
		return data, err
	}

	if err := sonic.ConfigDefault.Unmarshal(payload, &data); err != nil {
		return data, errors.Wrap(err, "unmarshal json")
	}

	if err := c.validate(data); err != nil {
		return data, errors.Wrap(err, "validate request")
	}

	return data, nil
}

// validate runs struct validation when T is a struct or a pointer to one.
func (c *JSONCodec[T, U]) validate(data T) error {
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return c.validator.Struct(v.Interface())
}

// Encode marshals resp into a 200 application/json response.
func (c *JSONCodec[T, U]) Encode(resp U) (*common.Response, error) {
	body, err := sonic.ConfigDefault.Marshal(resp)
	if err != nil {
		return nil, errors.Wrap(err, "marshal json")
	}

	out := common.NewResponse(http.StatusOK, body)
	out.Header.Set("Content-Type", "application/json")
	return out, nil
}
