package modelclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// HMACSigner signs requests with an HMAC-SHA256 over the request body and a
// timestamp header. It is the default scheme for self-hosted gateways;
// cloud deployments inject their provider's own [Signer] instead.
type HMACSigner struct {
	// KeyID identifies the key pair to the service.
	KeyID string

	// Secret is the shared signing key.
	Secret []byte
}

var _ Signer = (*HMACSigner)(nil)

// Sign implements [Signer].
func (s *HMACSigner) Sign(req *http.Request, body []byte) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(ts))
	mac.Write(body)

	req.Header.Set("X-Key-Id", s.KeyID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	return nil
}
