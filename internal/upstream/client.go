// Package upstream は外部のドキュメント処理サービスへの送信を担います。
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultContentType = "application/octet-stream"
	acceptProfile      = "text/xml"
)

// maxResponseBytes は上流レスポンス本文の読み込み上限です。
var maxResponseBytes int64 = 64 << 20

// ErrResponseTooLarge は上流の応答本文が上限を超えた場合に返されます。
var ErrResponseTooLarge = errors.New("upstream response exceeds size limit")

// Document は上流へ送信するドキュメントです。
type Document struct {
	Data        []byte
	ContentType string
}

// Response は上流サービスの応答です。
type Response struct {
	StatusCode int
	Body       string
}

// Client は上流サービスへ HTTP でドキュメントを送信します。
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient は送信先エンドポイントとタイムアウトを指定して Client を作成します。
// timeout が 0 以下の場合はタイムアウトを設定しません。
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("upstream endpoint is required")
	}
	httpClient := &http.Client{}
	if timeout > 0 {
		httpClient.Timeout = timeout
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}, nil
}

// Deliver はドキュメントを PUT し、ステータスコードと本文を返します。
// ステータスコードの解釈は呼び出し側に任せ、接続自体の失敗のみ error を返します。
func (c *Client) Deliver(ctx context.Context, doc Document) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint, bytes.NewReader(doc.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", acceptProfile)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	// 上限を1バイト超えて読み、切り詰めた本文を結果として扱わない
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if int64(len(body)) > maxResponseBytes {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrResponseTooLarge)
	}
	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
