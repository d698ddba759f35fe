package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	signatureHeader = "X-Directus-Signature"
	jwtAudience     = "contentmirror"
	scopeMirrorRead = "mirror:read"
)

type authError struct {
	status  int
	message string
}

func (e *authError) Error() string {
	return e.message
}

type tokenClaims struct {
	Subject string
	Scopes  map[string]struct{}
	Exp     int64
}

// verifyWebhookSignature checks the hex HMAC-SHA256 of the raw body. A
// "sha256=" prefix on the header value is accepted.
func verifyWebhookSignature(secret, signature string, body []byte) *authError {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(strings.ToLower(signature), "sha256=")
	if signature == "" {
		return &authError{status: 401, message: "missing " + signatureHeader + " header"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expectedHex := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expectedHex)) {
		return &authError{status: 401, message: "webhook signature mismatch"}
	}
	return nil
}

func authorizeBearer(authHeader, jwtSecret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	claims, err := parseBearer(authHeader, jwtSecret, now)
	if err != nil {
		return tokenClaims{}, err
	}
	if requiredScope != "" {
		if _, ok := claims.Scopes[requiredScope]; !ok {
			return tokenClaims{}, &authError{status: 403, message: "missing required scope: " + requiredScope}
		}
	}
	return claims, nil
}

func parseBearer(authHeader, jwtSecret string, now time.Time) (tokenClaims, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return tokenClaims{}, &authError{status: 401, message: "missing or invalid bearer token"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return tokenClaims{}, &authError{status: 401, message: "invalid jwt format"}
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return tokenClaims{}, &authError{status: 401, message: "invalid jwt header"}
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return tokenClaims{}, &authError{status: 401, message: "invalid jwt header"}
	}
	if header.Alg != "HS256" {
		return tokenClaims{}, &authError{status: 401, message: "unsupported jwt algorithm"}
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return tokenClaims{}, &authError{status: 401, message: "invalid jwt payload"}
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return tokenClaims{}, &authError{status: 401, message: "invalid jwt signature"}
	}
	mac := hmac.New(sha256.New, []byte(jwtSecret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return tokenClaims{}, &authError{status: 401, message: "jwt signature mismatch"}
	}

	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return tokenClaims{}, &authError{status: 401, message: "invalid jwt payload"}
	}
	subject, _ := payload["sub"].(string)
	if subject == "" {
		return tokenClaims{}, &authError{status: 401, message: "missing sub claim"}
	}
	exp, err := parseExp(payload["exp"])
	if err != nil {
		return tokenClaims{}, &authError{status: 401, message: "invalid exp claim"}
	}
	if now.Unix() >= exp {
		return tokenClaims{}, &authError{status: 401, message: "token expired"}
	}
	if aud, ok := payload["aud"].(string); !ok || aud != jwtAudience {
		return tokenClaims{}, &authError{status: 401, message: "invalid aud claim"}
	}
	scopes := parseScopes(payload["scopes"])
	if len(scopes) == 0 {
		return tokenClaims{}, &authError{status: 403, message: "no scopes granted"}
	}
	return tokenClaims{Subject: subject, Scopes: scopes, Exp: exp}, nil
}

func parseScopes(v any) map[string]struct{} {
	out := map[string]struct{}{}
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			if scope, ok := item.(string); ok && scope != "" {
				out[scope] = struct{}{}
			}
		}
	case string:
		for _, scope := range strings.Fields(typed) {
			out[scope] = struct{}{}
		}
	}
	return out
}

func parseExp(v any) (int64, error) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), nil
	case json.Number:
		return typed.Int64()
	default:
		return 0, errors.New("unsupported exp type")
	}
}
