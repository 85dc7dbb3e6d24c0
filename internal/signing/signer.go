package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrMissingCredentials = errors.New("signing: client id and secret are required")

// Signer produces the HMAC-SHA256 signatures presented on both handshakes.
type Signer struct {
	clientID string
	secret   []byte
}

func NewSigner(clientID, secret string) (*Signer, error) {
	if clientID == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	return &Signer{clientID: clientID, secret: []byte(secret)}, nil
}

func (s *Signer) ClientID() string {
	return s.clientID
}

// Sign returns the lowercase hex HMAC-SHA256 digest of message.
func (s *Signer) Sign(message string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// StreamSignature signs "clientId,sessionId,streamId".
func (s *Signer) StreamSignature(sessionID, streamID string) string {
	return s.Sign(s.clientID + "," + sessionID + "," + streamID)
}
