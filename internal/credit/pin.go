package credit

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	pinLength      = 8
	pinAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	pinMaxAttempts = 32
	// Largest multiple of the alphabet size that fits in a byte; bytes at or
	// above it are discarded so every character is equally likely.
	pinByteCeiling = 252
)

type pinState int

const (
	pinIssued pinState = iota
	pinRedeeming
)

type pinRecord struct {
	bundle Bundle
	state  pinState
}

// PINRegistry tracks outstanding redemption PINs in process memory.
// A PIN is issued, claimed by exactly one redeemer, and then either completed
// (removed) or released back to the issued state.
type PINRegistry struct {
	mutex   sync.Mutex
	records map[string]pinRecord
	random  io.Reader
}

// NewPINRegistry builds an empty registry drawing from crypto/rand.
func NewPINRegistry() *PINRegistry {
	return newPINRegistry(rand.Reader)
}

func newPINRegistry(random io.Reader) *PINRegistry {
	return &PINRegistry{records: make(map[string]pinRecord), random: random}
}

// Issue allocates a fresh PIN bound to bundle.
func (registry *PINRegistry) Issue(bundle Bundle) (string, error) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	for attempt := 0; attempt < pinMaxAttempts; attempt++ {
		code, err := registry.generate()
		if err != nil {
			return "", err
		}
		if _, taken := registry.records[code]; taken {
			continue
		}
		registry.records[code] = pinRecord{bundle: bundle, state: pinIssued}
		return code, nil
	}
	return "", ErrPINSpaceExhausted
}

// Claim reserves an issued PIN for one redeemer. Unknown and already claimed
// codes both yield ErrInvalidPIN.
func (registry *PINRegistry) Claim(code string) (Bundle, error) {
	key := normalizePIN(code)
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	record, ok := registry.records[key]
	if !ok || record.state != pinIssued {
		return "", ErrInvalidPIN
	}
	record.state = pinRedeeming
	registry.records[key] = record
	return record.bundle, nil
}

// Complete removes a claimed PIN after its credits were committed.
func (registry *PINRegistry) Complete(code string) {
	key := normalizePIN(code)
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if record, ok := registry.records[key]; ok && record.state == pinRedeeming {
		delete(registry.records, key)
	}
}

// Release returns a claimed PIN to the issued state.
func (registry *PINRegistry) Release(code string) {
	key := normalizePIN(code)
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if record, ok := registry.records[key]; ok && record.state == pinRedeeming {
		record.state = pinIssued
		registry.records[key] = record
	}
}

// Revoke drops a PIN regardless of its state.
func (registry *PINRegistry) Revoke(code string) {
	key := normalizePIN(code)
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	delete(registry.records, key)
}

// Outstanding reports how many PINs are issued or being redeemed.
func (registry *PINRegistry) Outstanding() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.records)
}

func (registry *PINRegistry) generate() (string, error) {
	var builder strings.Builder
	builder.Grow(pinLength)
	buffer := make([]byte, pinLength*2)
	for builder.Len() < pinLength {
		if _, err := io.ReadFull(registry.random, buffer); err != nil {
			return "", fmt.Errorf("read random pin bytes: %w", err)
		}
		for _, value := range buffer {
			if value >= pinByteCeiling {
				continue
			}
			builder.WriteByte(pinAlphabet[int(value)%len(pinAlphabet)])
			if builder.Len() == pinLength {
				break
			}
		}
	}
	return builder.String(), nil
}

func normalizePIN(code string) string {
	return strings.TrimSpace(code)
}
