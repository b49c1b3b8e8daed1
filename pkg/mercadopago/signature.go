package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	errSignatureMissing   = errors.New("signature header missing")
	errSignatureMalformed = errors.New("signature header malformed")
	errSignatureMismatch  = errors.New("signature mismatch")
)

// VerifySignature checks the x-signature header of a webhook delivery against
// the shared secret. The signed manifest is built from the notified data id,
// the x-request-id header and the timestamp carried in the signature itself.
func VerifySignature(secret, header, requestID, dataID string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errSignatureMissing
	}
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return errSignatureMalformed
	}
	expected, err := hex.DecodeString(v1)
	if err != nil {
		return errSignatureMalformed
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Manifest(dataID, requestID, ts)))
	if !hmac.Equal(mac.Sum(nil), expected) {
		return errSignatureMismatch
	}
	return nil
}

// Manifest renders the string MercadoPago signs. Empty parts are omitted.
func Manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}
