package gate

import (
	"log/slog"
	"net/http"
	"strings"
)

// TokenType distinguishes how an access token arrived.
type TokenType int

const (
	// TokenBearer is a token from a standard RFC 6750 Authorization header.
	TokenBearer TokenType = iota + 1
	// TokenBare is a token read verbatim from a configured custom header.
	TokenBare
)

func (t TokenType) String() string {
	switch t {
	case TokenBearer:
		return "bearer"
	case TokenBare:
		return "bare"
	default:
		return "unknown"
	}
}

// Token is an opaque access token resolved from a request. Immutable once
// parsed; request-scoped.
type Token struct {
	Value string
	Type  TokenType
}

// resolver extracts an access token from a request. Absence is reported as
// false, never as an error; malformed credentials are logged at debug level
// and swallowed. The variant is chosen once at construction.
type resolver interface {
	resolve(r *http.Request) (Token, bool)
}

// headerResolver reads a configured custom header. Only that header is
// consulted; a standard Authorization header is ignored even when present.
type headerResolver struct {
	header string
	logger *slog.Logger
}

func (hr *headerResolver) resolve(r *http.Request) (Token, bool) {
	value := r.Header.Get(hr.header)
	if value == "" {
		return Token{}, false
	}
	return Token{Value: value, Type: TokenBare}, true
}

// bearerResolver reads the standard Authorization header per RFC 6750.
type bearerResolver struct {
	logger *slog.Logger
}

func (br *bearerResolver) resolve(r *http.Request) (Token, bool) {
	value := r.Header.Get("Authorization")
	if value == "" {
		return Token{}, false
	}
	scheme, credentials, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		br.logger.DebugContext(r.Context(), "authorization header is not a bearer credential")
		return Token{}, false
	}
	credentials = strings.TrimLeft(credentials, " ")
	if !isB64Token(credentials) {
		br.logger.DebugContext(r.Context(), "bearer credential is not a valid b64token")
		return Token{}, false
	}
	return Token{Value: credentials, Type: TokenBearer}, true
}

// isB64Token reports whether s matches the RFC 6750 b64token syntax:
// 1*( ALPHA / DIGIT / "-" / "." / "_" / "~" / "+" / "/" ) *"=".
func isB64Token(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '=' {
			break
		}
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~' || c == '+' || c == '/':
		default:
			return false
		}
		i++
	}
	if i == 0 {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] != '=' {
			return false
		}
	}
	return true
}
