package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/clipsync/internal/common"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
)

// The bearer token is the one piece of process-wide state; everything else
// is passed by handle. Access only through GetToken/SetToken.
var bearer struct {
	mu  sync.RWMutex
	val string
}

func GetToken() string {
	bearer.mu.RLock()
	defer bearer.mu.RUnlock()
	return bearer.val
}

func SetToken(t string) {
	bearer.mu.Lock()
	bearer.val = t
	bearer.mu.Unlock()
}

// fetchToken exchanges the long-term credential for a short-lived bearer
// token at /getkey and stores it.
func fetchToken(ctx context.Context, client *http.Client, baseURL string, cred protocol.UserCred) error {
	body, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/getkey", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return common.ErrUnauthorized
	default:
		return fmt.Errorf("token request: unexpected status %d", resp.StatusCode)
	}

	token, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	SetToken(string(bytes.TrimSpace(token)))
	return nil
}
