package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/sensai/pkg/types"
)

// Signer authenticates outgoing requests to the remote model service. The
// body is passed separately because most signature schemes hash it.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// defaultRemoteMaxTokens caps completions when neither the request nor the
// client configures a limit.
const defaultRemoteMaxTokens = 1024

// RemoteClient generates text through a signed HTTP model service using
// Bedrock-style per-model invocation paths. There is no caching layer;
// every call hits the network and is accounted in the usage ledger.
//
// Safe for concurrent use.
type RemoteClient struct {
	endpoint   string
	model      string
	maxTokens  int
	httpClient *http.Client
	signer     Signer
	ledger     UsageLedger
	now        func() time.Time
}

var _ Generator = (*RemoteClient)(nil)

// RemoteOption customizes a RemoteClient.
type RemoteOption func(*RemoteClient)

// WithHTTPClient replaces the default HTTP client (10 s timeout).
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(c *RemoteClient) { c.httpClient = hc }
}

// WithMaxTokens sets the default completion cap for requests that do not
// specify one.
func WithMaxTokens(n int) RemoteOption {
	return func(c *RemoteClient) { c.maxTokens = n }
}

// NewRemoteClient creates a client against endpoint (scheme and host, no
// trailing slash required). Every call is signed by signer and accounted in
// ledger; a nil ledger disables quota admission and accounting.
func NewRemoteClient(endpoint, defaultModel string, signer Signer, ledger UsageLedger, opts ...RemoteOption) (*RemoteClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("modelclient: endpoint must not be empty")
	}
	if defaultModel == "" {
		return nil, fmt.Errorf("modelclient: default model must not be empty")
	}
	if signer == nil {
		return nil, fmt.Errorf("modelclient: signer must not be nil")
	}
	c := &RemoteClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      defaultModel,
		maxTokens:  defaultRemoteMaxTokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		signer:     signer,
		ledger:     ledger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate implements [Generator]. The ledger is consulted before dispatch;
// a denied admission fails with [KindQuota] without touching the network.
// Every dispatched call, successful or not, emits a usage record.
func (c *RemoteClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	prompt := req.prompt()
	estTokens := EstimateTokens(prompt)

	if c.ledger != nil {
		if allowed, reason := c.ledger.CheckQuota(model, estTokens); !allowed {
			return "", &Error{Client: "remote", Kind: KindQuota, Model: model, Err: errors.New(reason)}
		}
	}

	body, err := buildPayload(model, prompt, req.Temperature, maxTokens)
	if err != nil {
		return "", &Error{Client: "remote", Kind: KindUnknown, Model: model, Err: err}
	}

	url := c.endpoint + "/model/" + model + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Client: "remote", Kind: KindUnknown, Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.signer.Sign(httpReq, body); err != nil {
		return "", &Error{Client: "remote", Kind: KindUnknown, Model: model, Err: fmt.Errorf("sign request: %w", err)}
	}

	start := c.now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := c.now().Sub(start)
	if err != nil {
		kind := KindConnection
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = KindTimeout
		}
		c.record(req.RequestID, model, estTokens, 0, duration, false, kind)
		return "", &Error{Client: "remote", Kind: kind, Model: model, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		c.record(req.RequestID, model, estTokens, 0, duration, false, KindConnection)
		return "", &Error{Client: "remote", Kind: KindConnection, Model: model, Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		kind := kindFromStatus(httpResp.StatusCode, respBody)
		c.record(req.RequestID, model, estTokens, 0, duration, false, kind)
		return "", &Error{
			Client: "remote", Kind: kind, Model: model,
			Err: fmt.Errorf("status %d: %s", httpResp.StatusCode, truncate(respBody, 200)),
		}
	}

	text, inTokens, outTokens, err := parsePayload(model, respBody)
	if err != nil {
		c.record(req.RequestID, model, estTokens, 0, duration, false, KindUnknown)
		return "", &Error{Client: "remote", Kind: KindUnknown, Model: model, Err: err}
	}
	if inTokens == 0 {
		inTokens = estTokens
	}
	if outTokens == 0 {
		outTokens = EstimateTokens(text)
	}

	c.record(req.RequestID, model, inTokens, outTokens, duration, true, "")
	return text, nil
}

func (c *RemoteClient) record(requestID, model string, in, out int, duration time.Duration, success bool, kind Kind) {
	if c.ledger == nil {
		return
	}
	c.ledger.Record(types.UsageRecord{
		Timestamp:    c.now(),
		RequestID:    requestID,
		ModelID:      model,
		InputTokens:  in,
		OutputTokens: out,
		Duration:     duration,
		Success:      success,
		ErrorKind:    string(kind),
	})
}

// kindFromStatus maps an HTTP failure status onto a failure kind.
func kindFromStatus(status int, body []byte) Kind {
	lower := strings.ToLower(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusForbidden && strings.Contains(lower, "quota"):
		return KindQuota
	case status == http.StatusNotFound,
		status == http.StatusBadRequest && strings.Contains(lower, "model"):
		return KindModel
	case status == http.StatusBadRequest && (strings.Contains(lower, "content") ||
		strings.Contains(lower, "policy") || strings.Contains(lower, "blocked")):
		return KindContent
	case status >= 500:
		return KindConnection
	}
	return KindUnknown
}

// buildPayload serializes the request body in the shape the model family
// expects, selected by model-id prefix.
func buildPayload(model, prompt string, temperature float64, maxTokens int) ([]byte, error) {
	switch {
	case strings.HasPrefix(model, "anthropic."):
		return json.Marshal(map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		})
	case strings.HasPrefix(model, "meta."):
		return json.Marshal(map[string]any{
			"prompt":      prompt,
			"max_gen_len": maxTokens,
			"temperature": temperature,
		})
	default:
		return json.Marshal(map[string]any{
			"prompt":      prompt,
			"max_tokens":  maxTokens,
			"temperature": temperature,
		})
	}
}

// parsePayload extracts the completion text and token counts from a success
// response, by model-id prefix. Zero token counts mean the service did not
// report usage.
func parsePayload(model string, body []byte) (text string, inTokens, outTokens int, err error) {
	switch {
	case strings.HasPrefix(model, "anthropic."):
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, 0, fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Content) == 0 {
			return "", 0, 0, errors.New("empty content in response")
		}
		return resp.Content[0].Text, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil

	case strings.HasPrefix(model, "meta."):
		var resp struct {
			Generation           string `json:"generation"`
			PromptTokenCount     int    `json:"prompt_token_count"`
			GenerationTokenCount int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, 0, fmt.Errorf("decode response: %w", err)
		}
		if resp.Generation == "" {
			return "", 0, 0, errors.New("empty generation in response")
		}
		return resp.Generation, resp.PromptTokenCount, resp.GenerationTokenCount, nil

	default:
		var resp struct {
			Completion string `json:"completion"`
			OutputText string `json:"output_text"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, 0, fmt.Errorf("decode response: %w", err)
		}
		text := resp.Completion
		if text == "" {
			text = resp.OutputText
		}
		if text == "" {
			return "", 0, 0, errors.New("no completion text in response")
		}
		return text, 0, 0, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
