package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edgehub/hubcore/pkg/rbac"
)

var (
	// ErrInvalidToken is returned for any bearer token that cannot be trusted
	ErrInvalidToken = errors.New("invalid token")

	// ErrMalformedAuthorization is returned for a non-bearer Authorization header
	ErrMalformedAuthorization = errors.New("invalid authorization header format")
)

// Claims are the hub-specific JWT claims. A missing or null permissions
// claim decodes to nil, which skips the rule permission check; an empty
// array grants nothing.
type Claims struct {
	UserType    string   `json:"user_type"`
	HubID       string   `json:"hub_id,omitempty"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenValidator validates HS256 bearer tokens and resolves the caller
// address. X-Forwarded-For is honoured only when the peer is a trusted proxy.
type TokenValidator struct {
	secret  []byte
	issuer  string
	proxies []netip.Prefix
}

// NewTokenValidator creates a new token validator. An empty issuer accepts
// any issuer.
func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// WithTrustedProxies sets the proxy networks whose X-Forwarded-For header
// is believed. Entries are CIDRs or bare addresses.
func (tv *TokenValidator) WithTrustedProxies(networks ...string) (*TokenValidator, error) {
	proxies := make([]netip.Prefix, 0, len(networks))
	for _, n := range networks {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !strings.Contains(n, "/") {
			addr, err := netip.ParseAddr(n)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", n, err)
			}
			proxies = append(proxies, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(n)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", n, err)
		}
		proxies = append(proxies, prefix.Masked())
	}
	tv.proxies = proxies
	return tv, nil
}

// ValidateJWT parses and verifies tokenString
func (tv *TokenValidator) ValidateJWT(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if tv.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tv.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return tv.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	switch claims.UserType {
	case rbac.UserTypeAdmin, rbac.UserTypeSystem, rbac.UserTypeAPI, rbac.UserTypeAnonymous:
	default:
		return nil, fmt.Errorf("%w: unknown user type", ErrInvalidToken)
	}

	return claims, nil
}

// IssueToken signs a token for ac valid for ttl
func (tv *TokenValidator) IssueToken(ac *rbac.AccessContext, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserType:    ac.UserType,
		HubID:       ac.HubID,
		Permissions: ac.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ac.UserID,
			Issuer:    tv.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tv.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// AccessContext builds the caller context for r. A request without an
// Authorization header is anonymous.
func (tv *TokenValidator) AccessContext(r *http.Request) (*rbac.AccessContext, error) {
	ac := &rbac.AccessContext{
		UserType:  rbac.UserTypeAnonymous,
		IPAddress: tv.clientIP(r),
		UserAgent: r.UserAgent(),
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return ac, nil
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, ErrMalformedAuthorization
	}

	claims, err := tv.ValidateJWT(parts[1])
	if err != nil {
		return nil, err
	}

	ac.UserID = claims.Subject
	ac.UserType = claims.UserType
	ac.HubID = claims.HubID
	ac.Permissions = claims.Permissions
	return ac, nil
}

// clientIP walks X-Forwarded-For from the nearest hop and returns the first
// address that is not a trusted proxy. Untrusted peers get their own address.
func (tv *TokenValidator) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !tv.trusted(peer) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		client = hop
		if !tv.trusted(hop) {
			break
		}
	}
	return client
}

func (tv *TokenValidator) trusted(ip string) bool {
	if len(tv.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tv.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
