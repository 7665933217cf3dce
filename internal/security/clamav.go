package security

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dutchcoders/go-clamd"
)

// ClamavScanner streams attachment bytes to a clamd daemon over its native
// protocol.
type ClamavScanner struct {
	client *clamd.Clamd
}

func NewClamavScanner(address string) *ClamavScanner {
	return &ClamavScanner{client: clamd.NewClamd(address)}
}

// Ping verifies the daemon is reachable. Called once at startup so a
// misconfigured address fails fast instead of on the first attachment.
func (s *ClamavScanner) Ping() error {
	return s.client.Ping()
}

func (s *ClamavScanner) Scan(ctx context.Context, data []byte) (*ScanResult, error) {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return nil, fmt.Errorf("clamd scan failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-results:
		if !ok || res == nil {
			return nil, fmt.Errorf("clamd returned no result")
		}
		switch res.Status {
		case clamd.RES_OK:
			return &ScanResult{Clean: true}, nil
		case clamd.RES_FOUND:
			return &ScanResult{Clean: false, Detail: res.Description}, nil
		default:
			return nil, fmt.Errorf("clamd error: %s", res.Description)
		}
	}
}
