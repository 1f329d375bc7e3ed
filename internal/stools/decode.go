package stools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RequestError is a problem with the client's request body. Status is the
// HTTP status the caller should answer with.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func badRequest(format string, args ...interface{}) error {
	return &RequestError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// DecodeJSONBody decodes a single JSON object from the request body into dst.
// Unknown fields, trailing data and an empty body are rejected. The body size
// is bounded by whatever http.MaxBytesReader the middleware installed.
func DecodeJSONBody(r *http.Request, dst interface{}) error {
	return decodeJSON(r, dst, false)
}

// DecodeOptionalJSONBody is DecodeJSONBody for endpoints where every field
// is optional: an empty body leaves dst untouched.
func DecodeOptionalJSONBody(r *http.Request, dst interface{}) error {
	return decodeJSON(r, dst, true)
}

func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return &RequestError{Status: http.StatusUnsupportedMediaType, Message: "Content-Type header is not application/json"}
	}
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		return badRequest("request body must not be empty")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError
		var invalidUnmarshalError *json.InvalidUnmarshalError

		switch {
		case errors.As(err, &syntaxError):
			return badRequest("request body contains malformed JSON (at position %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return badRequest("request body contains malformed JSON")
		case errors.As(err, &typeError):
			return badRequest("request body contains an invalid value for the %q field (at position %d)", typeError.Field, typeError.Offset)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return badRequest("request body contains unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		case errors.Is(err, io.EOF):
			if allowEmpty {
				return nil
			}
			return badRequest("request body must not be empty")
		case errors.As(err, &maxBytesError):
			return &RequestError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body must not be larger than %d bytes", maxBytesError.Limit),
			}
		case errors.As(err, &invalidUnmarshalError):
			// programmer error, e.g. a non-pointer dst
			return fmt.Errorf("invalid unmarshal target: %w", err)
		default:
			return fmt.Errorf("error decoding JSON: %w", err)
		}
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return badRequest("request body must only contain a single JSON object")
	}
	return nil
}
