// Package identity resolves the acting principal and enforces capabilities.
//
// The platform's authentication layer is an external collaborator: it hands
// this core a user ID plus a role set, and the core trusts that as given.
// Every state-mutating operation goes through the same typed capability gate
// rather than ad-hoc role string checks scattered per route.
package identity

import (
	"context"
	"errors"
	"strings"
)

var ErrUnknownPrincipal = errors.New("identity: unknown principal")

// Role is a typed platform role.
type Role string

const (
	RoleListener Role = "listener"
	RoleArtist   Role = "artist"
	RoleBusiness Role = "business"
	RoleMarketer Role = "marketer"
	RoleAdmin    Role = "admin"
)

// ParseRole normalizes a role string, returning false for unknown roles.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleListener:
		return RoleListener, true
	case RoleArtist:
		return RoleArtist, true
	case RoleBusiness:
		return RoleBusiness, true
	case RoleMarketer:
		return RoleMarketer, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Principal is the acting identity for a request.
type Principal struct {
	UserID string `json:"userId"`
	Roles  []Role `json:"roles"`
}

// Has reports whether the principal carries the given role.
func (p *Principal) Has(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Has(RoleAdmin)
}

// Provider resolves a bearer token to a principal.
// Implementations live at the platform boundary; the core never inspects
// credentials itself.
type Provider interface {
	Identify(ctx context.Context, token string) (*Principal, error)
}

// StaticProvider is a fixed token → principal table for development and tests.
type StaticProvider struct {
	principals map[string]*Principal
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{principals: make(map[string]*Principal)}
}

// Add registers a token for the given principal and returns the provider
// for chaining.
func (s *StaticProvider) Add(token, userID string, roles ...Role) *StaticProvider {
	s.principals[token] = &Principal{UserID: userID, Roles: roles}
	return s
}

func (s *StaticProvider) Identify(_ context.Context, token string) (*Principal, error) {
	p, ok := s.principals[token]
	if !ok {
		return nil, ErrUnknownPrincipal
	}
	cp := *p
	return &cp, nil
}

// Len reports the number of registered tokens.
func (s *StaticProvider) Len() int {
	return len(s.principals)
}

// ParseProviderSpec builds a static provider from a token table spec of the
// form "token:userID:role1|role2,token2:userID2:role". Unknown roles and
// malformed entries produce an error rather than a silently weaker table.
func ParseProviderSpec(spec string) (*StaticProvider, error) {
	p := NewStaticProvider()
	if strings.TrimSpace(spec) == "" {
		return p, nil
	}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, errors.New("identity: token entry must be token:userID:roles")
		}
		var roles []Role
		for _, rs := range strings.Split(parts[2], "|") {
			role, ok := ParseRole(rs)
			if !ok {
				return nil, errors.New("identity: unknown role " + rs)
			}
			roles = append(roles, role)
		}
		p.Add(parts[0], parts[1], roles...)
	}
	return p, nil
}
