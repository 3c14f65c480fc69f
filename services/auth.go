// Package services holds the backend facing collaborators of the gateway that do
// not depend on a particular workflow: credentials, reachability and model
// presence.
package services

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/richinsley/comfyflow/comfyerr"
)

// AuthType selects how requests to the backend are authenticated.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	// AuthCustom sends caller supplied headers, for proxies with their own scheme.
	AuthCustom AuthType = "custom"
)

type AuthConfig struct {
	Type     AuthType          `json:"type"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"-"`
	APIKey   string            `json:"-"`
	Headers  map[string]string `json:"-"`
}

// AuthService turns credentials into request headers. It is immutable.
type AuthService struct {
	authType AuthType
	header   http.Header
}

func invalidAuth(authType AuthType, format string, args ...interface{}) error {
	return comfyerr.NewServicesError(comfyerr.ReasonInvalidAuth, fmt.Sprintf(format, args...),
		map[string]interface{}{"authType": string(authType)})
}

// NewAuthService validates cfg. An empty type means AuthNone.
func NewAuthService(cfg AuthConfig) (*AuthService, error) {
	authType := AuthType(strings.ToLower(strings.TrimSpace(string(cfg.Type))))
	if authType == "" {
		authType = AuthNone
	}

	header := make(http.Header)
	switch authType {
	case AuthNone:
	case AuthBasic:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, invalidAuth(authType, "basic auth requires a username and a password")
		}
		if strings.Contains(cfg.Username, ":") {
			return nil, invalidAuth(authType, "basic auth username must not contain ':'")
		}
		req := &http.Request{Header: header}
		req.SetBasicAuth(cfg.Username, cfg.Password)
	case AuthBearer:
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, invalidAuth(authType, "bearer auth requires an api key")
		}
		header.Set("Authorization", "Bearer "+key)
	case AuthCustom:
		if len(cfg.Headers) == 0 {
			return nil, invalidAuth(authType, "custom auth requires at least one header")
		}
		for k, v := range cfg.Headers {
			if !validHeaderName(k) {
				return nil, invalidAuth(authType, "invalid header name %q", k)
			}
			if strings.ContainsAny(v, "\r\n") {
				return nil, invalidAuth(authType, "header %s has an invalid value", k)
			}
			header.Set(textproto.CanonicalMIMEHeaderKey(k), v)
		}
	default:
		return nil, invalidAuth(authType, "unknown auth type %q", cfg.Type)
	}
	return &AuthService{authType: authType, header: header}, nil
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}
	return true
}

func (a *AuthService) Type() AuthType {
	return a.authType
}

// Headers returns a copy of the headers to send with every HTTP request and the
// websocket handshake.
func (a *AuthService) Headers() http.Header {
	return a.header.Clone()
}
