// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package fallback maps a requested capability to an ordered chain of
// candidate providers, skipping providers whose circuit is open.
package fallback

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"axonflow/gateway/breaker"
)

// ErrUnknownCapability is returned for capabilities with no configured
// chain.
var ErrUnknownCapability = errors.New("unknown capability")

// Tier is one candidate provider in a capability's chain. Higher
// weight means preferred.
type Tier struct {
	Provider string
	Weight   int
}

// Chains holds the per-capability candidate tiers.
type Chains map[string][]Tier

// ParseChains parses the routing syntax
// "chat-large=anthropic:100,bedrock:60;chat-small=openai:100".
// Capabilities are separated by ';', tiers by ',', weight follows the
// provider after ':'.
func ParseChains(s string) (Chains, error) {
	chains := make(Chains)
	if strings.TrimSpace(s) == "" {
		return chains, nil
	}

	for _, capSpec := range strings.Split(s, ";") {
		capSpec = strings.TrimSpace(capSpec)
		if capSpec == "" {
			continue
		}
		name, tierList, ok := strings.Cut(capSpec, "=")
		if !ok {
			return nil, fmt.Errorf("capability %q: missing '='", capSpec)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty capability name in %q", capSpec)
		}

		var tiers []Tier
		for _, t := range strings.Split(tierList, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			provider, weightStr, ok := strings.Cut(t, ":")
			if !ok {
				return nil, fmt.Errorf("capability %q: tier %q missing weight", name, t)
			}
			weight, err := strconv.Atoi(strings.TrimSpace(weightStr))
			if err != nil || weight < 0 {
				return nil, fmt.Errorf("capability %q: bad weight in tier %q", name, t)
			}
			tiers = append(tiers, Tier{Provider: strings.TrimSpace(provider), Weight: weight})
		}
		if len(tiers) == 0 {
			return nil, fmt.Errorf("capability %q has no tiers", name)
		}
		chains[name] = tiers
	}
	return chains, nil
}

// Selector picks routable candidates for a capability, consulting the
// breaker registry so open providers never enter the chain.
type Selector struct {
	chains   Chains
	breakers *breaker.Registry
}

// NewSelector creates a Selector over parsed chains.
func NewSelector(chains Chains, breakers *breaker.Registry) *Selector {
	return &Selector{chains: chains, breakers: breakers}
}

// Capabilities lists the configured capability names.
func (s *Selector) Capabilities() []string {
	names := make([]string, 0, len(s.chains))
	for name := range s.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns providers for a capability in descending weight
// order, dropping any in exclude and any whose breaker is Open. An
// empty result with a nil error means no provider is currently
// routable. Half-Open providers stay in the chain: the probe is how
// the circuit finds out the provider recovered.
func (s *Selector) Select(capability string, exclude []string) ([]string, error) {
	tiers, ok := s.chains[capability]
	if !ok {
		return nil, ErrUnknownCapability
	}

	skip := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		skip[p] = true
	}

	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight > ordered[j].Weight
	})

	var out []string
	for _, t := range ordered {
		if skip[t.Provider] {
			continue
		}
		if s.breakers != nil && s.breakers.For(t.Provider).CurrentState() == breaker.Open {
			continue
		}
		out = append(out, t.Provider)
	}
	return out, nil
}
