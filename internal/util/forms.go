// internal/util/forms.go
package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	validator "gopkg.in/go-playground/validator.v9"
)

var validate = validator.New()

// maxBodyBytes caps how much of a request body is read; anything past it is
// ignored and will fail JSON parsing.
const maxBodyBytes = 1024 * 1024

// ReadBody reads up to limit bytes of a request body and leaves the body
// readable for any later consumer.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	r.Body = io.NopCloser(bytes.NewBuffer(body))
	return body, err
}

// DecodeAndValidateJSON takes the passed in envelope and tries to unmarshal
// it from the body of the passed in request, then validates it against the
// envelope's struct tags.
func DecodeAndValidateJSON(envelope interface{}, r *http.Request) error {
	body, err := ReadBody(r, maxBodyBytes)
	if err != nil {
		return fmt.Errorf("unable to read request body: %w", err)
	}

	if err = json.Unmarshal(body, envelope); err != nil {
		return fmt.Errorf("unable to parse request JSON: %w", err)
	}

	if err = validate.Struct(envelope); err != nil {
		return fmt.Errorf("request JSON doesn't match required schema: %w", err)
	}

	return nil
}
