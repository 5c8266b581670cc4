package fetcher

import (
	"encoding/base64"
	"net/http"
)

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
)

// DefaultAPIKeyHeader is used when an api_key source names no header.
const DefaultAPIKeyHeader = "X-API-Key"

type Auth struct {
	Type       AuthType
	HeaderName string
	APIKey     string
	Username   string
	Password   string
	Token      string
}

func (a Auth) Apply(req *http.Request) {
	switch a.Type {
	case AuthAPIKey:
		header := a.HeaderName
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		req.Header.Set(header, a.APIKey)
	case AuthBasic:
		credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		req.Header.Set("Authorization", "Basic "+credentials)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
}

func ValidAuthType(t AuthType) bool {
	switch t {
	case "", AuthNone, AuthAPIKey, AuthBasic, AuthBearer:
		return true
	default:
		return false
	}
}
