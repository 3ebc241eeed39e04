// Package restclient is the DMS REST Client of spec.md §4.5: signed
// HTTP exchange, JSON parsing, and encrypted-envelope decoding. Built
// on the standard library's net/http, the same way client/client.go
// in this codebase talks to the Otto server — no third-party HTTP
// client is used anywhere in this corpus.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rustyeddy/dms-agent/cryptoutil"
)

// Client is a signed, timeout-bounded HTTP client against the DMS
// control plane. It holds no session state across calls.
type Client struct {
	BaseURL     string
	ProductKey  string
	ProductType string

	HTTPClient *http.Client

	aesKeyOverride []byte
	aesIVOverride  []byte
}

// New creates a Client with the normative 5s per-request timeout
// and TLS verification always on (the zero-value http.Transport
// already verifies both peer and host, so nothing further is needed
// to satisfy that requirement).
func New(baseURL, productKey, productType string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:     baseURL,
		ProductKey:  productKey,
		ProductType: productType,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithAESKeyIV overrides the build-time AES envelope key/IV, the seam
// spec.md §9 calls for to allow provisioning-time injection instead of
// a hardcoded constant.
func (c *Client) WithAESKeyIV(key, iv []byte) *Client {
	c.aesKeyOverride = key
	c.aesIVOverride = iv
	return c
}

func (c *Client) aesKey() []byte {
	if c.aesKeyOverride != nil {
		return c.aesKeyOverride
	}
	return DefaultAESKey
}

func (c *Client) aesIV() []byte {
	if c.aesIVOverride != nil {
		return c.aesIVOverride
	}
	return DefaultAESIV
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// do performs one signed HTTP exchange. method is "GET" or "POST";
// body, if non-nil, is marshaled as the request JSON body. The
// response body is returned raw for the caller to interpret — some
// endpoints return an envelope, some return a flat object.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, newErr(KindInvalidParam, "marshaling request body", err)
		}
		reqBody = bytes.NewReader(b)
	}

	url := c.BaseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, newErr(KindInvalidParam, "building request", err)
	}

	ts := time.Now()
	sig, tsStr := cryptoutil.SignTimestamp(c.ProductKey, ts)
	req.Header.Set("Product-Type", c.ProductType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Signature-Time", tsStr)
	req.Header.Set("Signature", sig)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newErr(KindTimeout, path, err)
		}
		return nil, newErr(KindNetwork, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newErr(KindNetwork, "reading response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return respBody, newErr(KindAuth, path, httpErr(resp.StatusCode, path))
	case resp.StatusCode >= 500:
		return respBody, newErr(KindServer, path, httpErr(resp.StatusCode, path))
	case resp.StatusCode >= 400:
		return respBody, httpErr(resp.StatusCode, path)
	}
	return respBody, nil
}

// decodeEnvelopeResponse reads the top-level {"data": ...} wrapper and
// decodes it per spec.md §4.5 into out.
func (c *Client) decodeEnvelopeResponse(raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return newErr(KindJSONParse, "parsing envelope wrapper", err)
	}

	var dataStr string
	if err := json.Unmarshal(env.Data, &dataStr); err != nil {
		// data was not a JSON string; it may already be a plain
		// object (some deployments skip the string-wrapping step).
		return unmarshalUnescaped(string(env.Data), out)
	}
	return c.decodeEnvelope(dataStr, out)
}

func unixTimestamp(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

func debugLogAttempt(op string, err error) {
	if err != nil {
		slog.Debug("restclient request failed", "op", op, "error", err)
		return
	}
	slog.Debug("restclient request ok", "op", op)
}

func fmtUniqueIDQuery(base, uniqueID string, extra ...string) string {
	q := fmt.Sprintf("%s?unique_id=%s", base, uniqueID)
	for i := 0; i+1 < len(extra); i += 2 {
		q += fmt.Sprintf("&%s=%s", extra[i], extra[i+1])
	}
	return q
}

// httpNewPut builds an unsigned PUT request against a presigned URL,
// used for the log-artifact upload step that follows
// LogUploadURLAttain.
func httpNewPut(ctx context.Context, url, contentType string, data []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}
