// Package secret holds credential material (API keys, OIDC client
// secrets, database passwords) in memguard-locked memory for as long as
// the engine needs it, instead of leaving plaintext copies sitting in
// ordinary Go heap values that a core dump or swapped page could expose.
package secret

import (
	"sync"

	"github.com/awnumar/memguard"
)

var catchInterruptOnce sync.Once

// CatchInterrupt arranges for all secret.String values allocated during
// the process lifetime to be wiped on SIGINT/SIGTERM, in addition to
// whatever the shutdown controller's own cleanup path does. Safe to call
// more than once; only the first call takes effect.
func CatchInterrupt() {
	catchInterruptOnce.Do(memguard.CatchInterrupt)
}

// Purge wipes every secret.String currently alive in the process. The
// CLI's shutdown path calls this once after the coordinator returns.
func Purge() {
	memguard.Purge()
}

// String is a credential value that lives in locked, guarded memory
// between construction and Destroy. The zero value is not usable; build
// one with New.
type String struct {
	enclave *memguard.Enclave
}

// New copies plaintext into a locked enclave and returns a handle to it.
// The caller's plaintext slice is zeroed as part of the enclave seal, so
// callers must not reuse it afterward.
func New(plaintext []byte) String {
	return String{enclave: memguard.NewEnclave(plaintext)}
}

// FromString is a convenience wrapper for credentials that arrive as Go
// strings (config files, env vars). The original string itself cannot be
// zeroed — Go strings are immutable — so callers reading credentials from
// a source they control should prefer New with a []byte where possible.
func FromString(plaintext string) String {
	return New([]byte(plaintext))
}

// Empty reports whether s holds no enclave, i.e. is the zero value.
func (s String) Empty() bool {
	return s.enclave == nil
}

// Use decodes the secret into a short-lived locked buffer, invokes fn
// with its plaintext bytes, and destroys the buffer before returning,
// regardless of what fn does with the slice afterward (fn must not
// retain it past its own return). Returns fn's error, or the decode
// error if the enclave could not be opened.
func (s String) Use(fn func(plaintext []byte) error) error {
	if s.enclave == nil {
		return fn(nil)
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Reveal decodes and returns a copy of the plaintext as a string. This
// defeats the purpose of locked storage for however long the returned
// string is reachable, so it exists only for call sites that must hand
// a string to a third-party API (e.g. an http.Request's Basic-Auth
// setter) that gives no other way in. Prefer Use wherever the consumer
// can take a []byte.
func (s String) Reveal() (string, error) {
	var out string
	err := s.Use(func(plaintext []byte) error {
		out = string(plaintext)
		return nil
	})
	return out, err
}
