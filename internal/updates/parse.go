package updates

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload = errors.New("malformed update payload")
	ErrMissingData      = errors.New("update has no data")
)

// bridgeCall is the shape some engines use when a bridge function receives
// its arguments as a JSON encoded list.
type bridgeCall struct {
	Args []string `json:"args"`
}

// ParseBridgePayload parses a string handed to the page bridge. The payload
// is either an Update or an object whose first args element is an encoded
// Update.
func ParseBridgePayload(payload string) (Update, error) {
	u, err := parseUpdate([]byte(payload))
	if err == nil {
		return u, nil
	}

	var call bridgeCall
	if jerr := json.Unmarshal([]byte(payload), &call); jerr != nil || len(call.Args) == 0 {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	u, err = parseUpdate([]byte(call.Args[0]))
	if err != nil {
		return Update{}, fmt.Errorf("%w: unwrapped args: %v", ErrMalformedPayload, err)
	}
	return u, nil
}

// ParseUpdate parses an inbound operator update.
func ParseUpdate(raw []byte) (Update, error) {
	u, err := parseUpdate(raw)
	if err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return u, nil
}

func parseUpdate(raw []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return Update{}, err
	}
	if !u.Type.Valid() {
		return Update{}, fmt.Errorf("unknown update type %q", u.Type)
	}
	if string(u.Data) == "null" {
		u.Data = nil
	}
	return u, nil
}
