package admission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"
)

// ErrInvalidBody is returned by estimators that cannot interpret the
// request body.
var ErrInvalidBody = errors.New("request body cannot be measured")

// CostEstimator predicts the consumption units of a request before it is
// forwarded. Estimators that read the body must restore it.
type CostEstimator interface {
	Estimate(r *http.Request) (int64, error)
}

// FixedCost charges the same number of units for every request.
type FixedCost int64

func (c FixedCost) Estimate(*http.Request) (int64, error) { return max(int64(c), 1), nil }

// DefaultBytesPerUnit approximates one consumption unit per four bytes of
// request text.
const DefaultBytesPerUnit = 4

// BodySizeEstimator charges ceil(len(body) / BytesPerUnit) units with a
// minimum of one.
type BodySizeEstimator struct {
	BytesPerUnit int64
}

func (e BodySizeEstimator) Estimate(r *http.Request) (int64, error) {
	body, err := readAndRestore(r)
	if err != nil {
		return 0, err
	}
	per := e.BytesPerUnit
	if per <= 0 {
		per = DefaultBytesPerUnit
	}
	units := (int64(len(body)) + per - 1) / per
	return max(units, 1), nil
}

// PromptLengthEstimator charges the character length of a string field in
// a JSON request body, with a minimum of one. Field defaults to "prompt".
type PromptLengthEstimator struct {
	Field string
}

func (e PromptLengthEstimator) Estimate(r *http.Request) (int64, error) {
	body, err := readAndRestore(r)
	if err != nil {
		return 0, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return 1, nil
	}

	field := e.Field
	if field == "" {
		field = "prompt"
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	raw, ok := doc[field]
	if !ok {
		return 1, nil
	}
	var prompt string
	if err := json.Unmarshal(raw, &prompt); err != nil {
		return 0, fmt.Errorf("%w: field %q is not a string", ErrInvalidBody, field)
	}
	return max(int64(utf8.RuneCountInString(prompt)), 1), nil
}

func readAndRestore(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
