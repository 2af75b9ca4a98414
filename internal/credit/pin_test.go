package credit

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

type repeatingReader struct {
	value byte
}

func (reader repeatingReader) Read(buffer []byte) (int, error) {
	for index := range buffer {
		buffer[index] = reader.value
	}
	return len(buffer), nil
}

func TestPINRegistryIssuesWellFormedUniqueCodes(test *testing.T) {
	test.Parallel()
	registry := NewPINRegistry()
	const issues = 500
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		codes     = make(map[string]struct{}, issues)
	)
	for index := 0; index < issues; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			code, err := registry.Issue(BundleSmall)
			if err != nil {
				test.Errorf("issue: %v", err)
				return
			}
			mutex.Lock()
			codes[code] = struct{}{}
			mutex.Unlock()
		}()
	}
	waitGroup.Wait()

	if len(codes) != issues || registry.Outstanding() != issues {
		test.Fatalf("expected %d unique codes, got %d (outstanding %d)", issues, len(codes), registry.Outstanding())
	}
	for code := range codes {
		if len(code) != pinLength {
			test.Fatalf("unexpected code length %q", code)
		}
		for _, character := range code {
			if !strings.ContainsRune(pinAlphabet, character) {
				test.Fatalf("unexpected character in %q", code)
			}
		}
	}
}

func TestPINRegistryRetriesOnCollision(test *testing.T) {
	test.Parallel()
	random := bytes.NewReader(append(append(make([]byte, 16), make([]byte, 16)...), bytes.Repeat([]byte{1}, 16)...))
	registry := newPINRegistry(random)

	first, err := registry.Issue(BundleSmall)
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	second, err := registry.Issue(BundleLarge)
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	if first != "AAAAAAAA" || second != "BBBBBBBB" {
		test.Fatalf("unexpected codes %q %q", first, second)
	}
}

func TestPINRegistryDiscardsBiasedBytes(test *testing.T) {
	test.Parallel()
	random := bytes.NewReader(append(bytes.Repeat([]byte{255}, 8), bytes.Repeat([]byte{37}, 8)...))
	registry := newPINRegistry(random)

	code, err := registry.Issue(BundleSmall)
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	if code != "BBBBBBBB" {
		test.Fatalf("expected bytes above the ceiling to be skipped, got %q", code)
	}
}

func TestPINRegistryReportsExhaustion(test *testing.T) {
	test.Parallel()
	registry := newPINRegistry(repeatingReader{value: 0})
	if _, err := registry.Issue(BundleSmall); err != nil {
		test.Fatalf("issue: %v", err)
	}
	if _, err := registry.Issue(BundleSmall); !errors.Is(err, ErrPINSpaceExhausted) {
		test.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestPINRegistryClaimLifecycle(test *testing.T) {
	test.Parallel()
	registry := NewPINRegistry()
	code, err := registry.Issue(BundleMedium)
	if err != nil {
		test.Fatalf("issue: %v", err)
	}

	bundle, err := registry.Claim(" " + code + " ")
	if err != nil || bundle != BundleMedium {
		test.Fatalf("expected medium bundle, got %q %v", bundle, err)
	}
	if _, err := registry.Claim(code); !errors.Is(err, ErrInvalidPIN) {
		test.Fatalf("expected claimed pin to be invisible, got %v", err)
	}
	registry.Release(code)
	if _, err := registry.Claim(code); err != nil {
		test.Fatalf("expected released pin to be claimable: %v", err)
	}
	registry.Complete(code)
	if registry.Outstanding() != 0 {
		test.Fatalf("expected completed pin to be removed")
	}
	if _, err := registry.Claim(code); !errors.Is(err, ErrInvalidPIN) {
		test.Fatalf("expected completed pin to be invalid, got %v", err)
	}
}

func TestPINRegistryCompleteIgnoresUnclaimedPIN(test *testing.T) {
	test.Parallel()
	registry := NewPINRegistry()
	code, err := registry.Issue(BundleSmall)
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	registry.Complete(code)
	if registry.Outstanding() != 1 {
		test.Fatalf("expected issued pin to survive complete without claim")
	}
	registry.Revoke(code)
	if registry.Outstanding() != 0 {
		test.Fatalf("expected revoked pin to be removed")
	}
}
