// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/juju/errors"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of a webhook body, hex
	// encoded and prefixed with "sha256=".
	SignatureHeader = "X-Vetpay-Signature"

	signaturePrefix = "sha256="
	bearerPrefix    = "Bearer "
)

// requireToken rejects requests without the operator bearer token.
func (h *apiHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, bearerPrefix)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.Token)) != 1 {
			h.sendError(w, req, errors.Unauthorizedf("invalid or missing bearer token"))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Sign returns the signature header value for a webhook body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks the signature header against the body.
func verifySignature(secret string, body []byte, header string) error {
	encoded, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return errors.Unauthorizedf("missing webhook signature")
	}
	got, err := hex.DecodeString(encoded)
	if err != nil {
		return errors.Unauthorizedf("malformed webhook signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errors.Unauthorizedf("webhook signature mismatch")
	}
	return nil
}
