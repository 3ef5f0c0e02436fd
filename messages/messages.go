// Package messages parses and validates inbound package and staging requests.
// Nothing in this package touches storage.
package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

const parseErrorPrefix = "Request invalid due to parse error: "

type parseError struct {
	reason string
}

func (e *parseError) Error() string {
	return parseErrorPrefix + e.reason
}

// decodeObject decodes body into a JSON object, keeping numbers as json.Number
// so integer fields can be told apart from floats.
func decodeObject(body []byte) (map[string]interface{}, bool, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]interface{}{}, false, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var parsed interface{}
	if err := decoder.Decode(&parsed); err != nil {
		return nil, false, &parseError{reason: err.Error()}
	}
	if decoder.More() {
		return nil, false, &parseError{reason: "unexpected data after top-level value"}
	}

	opts, ok := parsed.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, false, nil
	}
	return opts, true, nil
}

// integerError names what is wrong with a field that should hold an integer, or returns
// "" when it holds one.
func integerError(field string, v interface{}) string {
	n, ok := v.(json.Number)
	if !ok {
		return "The " + field + " field must be an Integer"
	}
	_, err := n.Int64()
	switch {
	case err == nil:
		return ""
	case errors.Is(err, strconv.ErrRange):
		return "The " + field + " field must be between " +
			strconv.FormatInt(-1<<63, 10) + " and " + strconv.FormatInt(1<<63-1, 10)
	}
	return "The " + field + " field must be an Integer"
}

func integerValue(v interface{}) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return i, err == nil
}

func stringValue(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
