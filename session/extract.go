package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// FieldPaths are JSONPath expressions locating the session fields in a
// login response.
type FieldPaths struct {
	UserID              string
	AccountID           string
	APISessionKey       string
	TransportSessionKey string
}

// DefaultFieldPaths matches the Definedge Integrate token response.
func DefaultFieldPaths() FieldPaths {
	return FieldPaths{
		UserID:              "$.uid",
		AccountID:           "$.actid",
		APISessionKey:       "$.api_session_key",
		TransportSessionKey: "$.susertoken",
	}
}

type evaluator func(ctx context.Context, v any) (any, error)

type fieldExtractor struct {
	userID, accountID, apiKey, transportKey evaluator
}

func newFieldExtractor(p FieldPaths) (*fieldExtractor, error) {
	def := DefaultFieldPaths()
	compile := func(name, expr, fallback string) (evaluator, error) {
		if strings.TrimSpace(expr) == "" {
			expr = fallback
		}
		eval, err := jsonpath.New(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling %s path %q: %w", name, expr, err)
		}
		return evaluator(eval), nil
	}
	var (
		fe  fieldExtractor
		err error
	)
	if fe.userID, err = compile("uid", p.UserID, def.UserID); err != nil {
		return nil, err
	}
	if fe.accountID, err = compile("actid", p.AccountID, def.AccountID); err != nil {
		return nil, err
	}
	if fe.apiKey, err = compile("api session key", p.APISessionKey, def.APISessionKey); err != nil {
		return nil, err
	}
	if fe.transportKey, err = compile("transport session key", p.TransportSessionKey, def.TransportSessionKey); err != nil {
		return nil, err
	}
	return &fe, nil
}

// extract pulls the four fields out of body. A missing or empty field
// fails with ErrMalformedLoginResponse.
func (fe *fieldExtractor) extract(ctx context.Context, body []byte) (*Session, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLoginResponse, err)
	}

	var (
		s       Session
		missing []string
	)
	for _, f := range []struct {
		name string
		eval evaluator
		dst  *string
	}{
		{"uid", fe.userID, &s.UserID},
		{"actid", fe.accountID, &s.AccountID},
		{"api_session_key", fe.apiKey, &s.APISessionKey},
		{"transport_session_key", fe.transportKey, &s.TransportSessionKey},
	} {
		v, err := f.eval(ctx, doc)
		if err != nil {
			missing = append(missing, f.name)
			continue
		}
		str, ok := scalarString(v)
		if !ok || str == "" {
			missing = append(missing, f.name)
			continue
		}
		*f.dst = str
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedLoginResponse, strings.Join(missing, ", "))
	}
	return &s, nil
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return "", false
	}
}
