package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
)

const verifyPath = "/api/system/verify-llm"

// Verify asks the generation service to check the model credentials. It is
// not billable and does not need a run.
func (b *HTTPBackend) Verify(ctx context.Context, s Settings) error {
	if missing := missingSettings(s, "endpoint", "chat_api_url", "api_key", "model"); len(missing) > 0 {
		return errinfo.New(errinfo.KindMissingConfig, "verify", "missing "+strings.Join(missing, ", "))
	}
	payload, err := json.Marshal(map[string]string{
		"api_url": s.ChatAPIURL,
		"api_key": s.APIKey,
		"model":   s.Model,
	})
	if err != nil {
		return fmt.Errorf("encode verify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+verifyPath, bytes.NewReader(payload))
	if err != nil {
		return errinfo.Wrap(errinfo.KindMissingConfig, "verify", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := b.do(req, "verify", &out); err != nil {
		return err
	}
	if !out.Success {
		return errinfo.Remote(errinfo.KindForbidden, "verify", 0, out.Error)
	}
	return nil
}
