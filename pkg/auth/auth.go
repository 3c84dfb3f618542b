// Package auth gates who may open a replication-sourced transaction. It
// is deliberately narrow: it decides whether a peer is allowed to call
// inflight.Handle.Open(..., inflight.Replication) at all, not how a
// replication-sourced write is classified once open — that stays
// entirely in package inflight.
//
// Client-sourced opens are not authenticated at this layer; callers are
// expected to arrive with an already-authenticated upstream session
// (HTTP/IPC), which is out of scope here.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned by VerifyPeer when the presented secret
// does not match the enrolled peer secret.
var ErrUnauthorized = errors.New("auth: unauthorized replication peer")

// HashSecret bcrypt-hashes a shared secret at peer-enrollment time. The
// result is what Config.Replication.PeerSecretHash should be set to; the
// plaintext secret itself is never persisted.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifyPeer checks presentedSecret against secretHash (produced by
// HashSecret at enrollment time). Replication receivers call this before
// allowing Open(handle, Replication) for a given peer connection.
func VerifyPeer(secretHash, presentedSecret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(presentedSecret)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// SessionToken derives a non-secret, per-peer token a receiver can hand
// back to an already-verified sender to tag subsequent requests on the
// same connection, without re-presenting the shared secret on every
// call.
func SessionToken(secret, peer string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(peer))
	return hex.EncodeToString(mac.Sum(nil))
}
