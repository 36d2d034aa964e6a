// Package document はアップロードされたドキュメントの検査機能を提供します。
package document

import (
	"bytes"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const mimePDF = "application/pdf"

// Error はクライアントへ返すエラーコードとメッセージを保持します。
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Limits はドキュメントの受け入れ上限です。0 の項目は無制限として扱います。
type Limits struct {
	MaxSize  int64
	MaxPages int
}

// Info は検査結果のメタデータです。
type Info struct {
	MimeType string
	Size     int64
	// Pages は PDF の場合のみ設定されます。解析できなかった場合は 0 です。
	Pages int
}

// Inspect はドキュメントの種別を判定し、上限を超えていないか検証します。
// 中身が壊れている PDF は拒否せず、解釈は上流サービスに委ねます。
func Inspect(data []byte, limits Limits) (*Info, error) {
	if len(data) == 0 {
		return nil, newError("INVALID_INPUT", "ドキュメントが空です。")
	}
	size := int64(len(data))
	if limits.MaxSize > 0 && size > limits.MaxSize {
		return nil, newError("LIMIT_EXCEEDED", fmt.Sprintf("ドキュメントのサイズが上限（%dバイト）を超えています。", limits.MaxSize))
	}

	mtype := mimetype.Detect(data)
	info := &Info{
		MimeType: mtype.String(),
		Size:     size,
	}

	if mtype.Is(mimePDF) {
		info.Pages = countPages(data)
		if limits.MaxPages > 0 && info.Pages > limits.MaxPages {
			return nil, newError("LIMIT_EXCEEDED", fmt.Sprintf("ページ数が上限（%dページ）を超えています。", limits.MaxPages))
		}
	}

	return info, nil
}

func countPages(data []byte) (pages int) {
	defer func() {
		// pdfcpu は壊れた入力で panic することがある
		if recover() != nil {
			pages = 0
		}
	}()
	n, err := pdfapi.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0
	}
	return n
}
