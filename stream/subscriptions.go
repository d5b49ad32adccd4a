// Package stream keeps the set of instruments subscribed on the broker's
// websocket feed and forwards feed frames to EventBus topics.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmcleod/tradedesk/broker"
)

// Kinds of subscription sent for every token.
const (
	KindTick  = "tick"
	KindOrder = "order"
	KindDepth = "depth"
)

// Token identifies an instrument on the feed.
type Token struct {
	Exchange string `json:"exchange"`
	Token    string `json:"token"`
}

func (t Token) String() string { return t.Exchange + "|" + t.Token }

// Resolver maps a trading symbol to an instrument. *broker.Master
// implements it.
type Resolver interface {
	Lookup(exchange, tradingSymbol string) (broker.Instrument, error)
}

// Frame is one JSON message on the feed. Every value is a string.
type Frame map[string]string

// Subscriptions is the current token set.
type Subscriptions struct {
	resolver Resolver

	mu     sync.RWMutex
	tokens []Token
}

// NewSubscriptions returns an empty set.
func NewSubscriptions(r Resolver) *Subscriptions {
	return &Subscriptions{resolver: r}
}

// Set resolves symbols on exchange and replaces the token set. Nothing
// changes unless every symbol resolves.
func (s *Subscriptions) Set(exchange string, symbols []string) error {
	tokens := make([]Token, 0, len(symbols))
	seen := map[Token]bool{}
	var errs []error
	for _, sym := range symbols {
		if strings.TrimSpace(sym) == "" {
			continue
		}
		in, err := s.resolver.Lookup(exchange, sym)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tok := Token{Exchange: in.Segment, Token: in.Token}
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("resolving subscriptions: %w", errors.Join(errs...))
	}
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return nil
}

// Tokens returns a copy of the current set.
func (s *Subscriptions) Tokens() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Token(nil), s.tokens...)
}

// Frames builds the tick, order and depth subscription frames for the
// current set. An empty set yields no frames.
func (s *Subscriptions) Frames(accountID string) []Frame {
	tokens := s.Tokens()
	if len(tokens) == 0 {
		return nil
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = t.String()
	}
	k := strings.Join(keys, "#")
	return []Frame{
		{"t": "t", "k": k},
		{"t": "o", "actid": accountID},
		{"t": "d", "k": k},
	}
}
