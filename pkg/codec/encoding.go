// Package codec provides request decoding and response encoding for generic routes.
// JSON is handled by sonic with validator tags checked on decode; Protocol Buffers
// by google.golang.org/protobuf.
package codec

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Source selects where a codec reads the request payload from.
type Source int

const (
	// SourceBody reads the payload from the request body
	SourceBody Source = iota

	// SourceQuery reads the payload from a query parameter as is
	SourceQuery

	// SourceBase64Query reads the payload from a base64-encoded query parameter
	SourceBase64Query
)

// Option configures a codec.
type Option func(*settings)

type settings struct {
	source Source
	param  string
}

// FromQuery makes the codec read its payload from the named query parameter.
func FromQuery(param string) Option {
	return func(s *settings) {
		s.source = SourceQuery
		s.param = param
	}
}

// FromBase64Query makes the codec read its payload from the named query parameter,
// base64-decoding it first.
func FromBase64Query(param string) Option {
	return func(s *settings) {
		s.source = SourceBase64Query
		s.param = param
	}
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// payload returns the raw request data according to the source.
func (s settings) payload(r *http.Request) ([]byte, error) {
	switch s.source {
	case SourceQuery:
		value := r.URL.Query().Get(s.param)
		if value == "" {
			return nil, errors.Errorf("missing query parameter %q", s.param)
		}
		return []byte(value), nil
	case SourceBase64Query:
		value := r.URL.Query().Get(s.param)
		if value == "" {
			return nil, errors.Errorf("missing query parameter %q", s.param)
		}
		data, err := DecodeBase64(value)
		if err != nil {
			return nil, errors.Wrapf(err, "decode query parameter %q", s.param)
		}
		return data, nil
	default:
		if r.Body == nil {
			return nil, errors.New("empty request body")
		}
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "read request body")
		}
		return body, nil
	}
}

// DecodeBase64 decodes a base64-encoded string to bytes.
// Both the standard and the URL-safe alphabets are accepted.
func DecodeBase64(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(encoded)
}
