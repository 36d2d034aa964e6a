package jobs

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/paper-profile/internal/auth"
	"github.com/yourusername/paper-profile/internal/document"
	"github.com/yourusername/paper-profile/internal/upstream"
)

const (
	mimeOctetStream = "application/octet-stream"
	mimeXML         = "text/xml"

	// progressBody は処理中のジョブに対して返す本文です。
	progressBody  = "PROGRESS"
	jobStatusHead = "X-Job-Status"
)

// HandlerOptions は HTTP ハンドラーの設定です。
type HandlerOptions struct {
	Limits document.Limits
}

// SubmitHandler は POST /submit のハンドラーを返します。
func SubmitHandler(m *Manager, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(c.ContentType(), mimeOctetStream) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"code":    "UNSUPPORTED_MEDIA_TYPE",
				"message": "Content-Type: application/octet-stream でドキュメントを送信してください。",
			})
			return
		}
		if !accepts(c, gin.MIMEPlain) {
			c.JSON(http.StatusNotAcceptable, gin.H{
				"code":    "NOT_ACCEPTABLE",
				"message": "Accept に text/plain を含めてください。",
			})
			return
		}

		owner, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "アクセストークンが必要です",
			})
			return
		}

		data, err := readBody(c, opts.Limits.MaxSize)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"code":    "LIMIT_EXCEEDED",
					"message": "ドキュメントのサイズが上限を超えています。",
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "ドキュメントの読み込みに失敗しました。",
			})
			return
		}

		info, err := document.Inspect(data, opts.Limits)
		if err != nil {
			respondWithError(c, err)
			return
		}

		jobID, err := m.Submit(c.Request.Context(), owner, upstream.Document{
			Data:        data,
			ContentType: info.MimeType,
		})
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Cache-Control", "no-store")
		c.String(http.StatusOK, jobID)
	}
}

// RetrieveHandler は GET /retrieve/:id のハンドラーを返します。
func RetrieveHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Content-Type") != "" {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"code":    "UNSUPPORTED_MEDIA_TYPE",
				"message": "取得リクエストに本文は不要です。",
			})
			return
		}
		if !accepts(c, mimeXML) {
			c.JSON(http.StatusNotAcceptable, gin.H{
				"code":    "NOT_ACCEPTABLE",
				"message": "Accept に text/xml を含めてください。",
			})
			return
		}

		owner, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "アクセストークンが必要です",
			})
			return
		}

		view, err := m.Retrieve(c.Request.Context(), owner, strings.TrimSpace(c.Param("id")))
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Cache-Control", "no-store")
		c.Header(jobStatusHead, string(view.State))
		switch view.State {
		case StatePending:
			c.String(http.StatusOK, progressBody)
		case StateCompleted:
			c.Data(http.StatusOK, mimeXML+"; charset=utf-8", []byte(view.Result))
		case StateErrorInternal:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "PROCESSING_FAILED",
				"message": "ドキュメントの処理依頼に失敗しました。",
			})
		case StateErrorUpstream:
			c.JSON(http.StatusBadGateway, gin.H{
				"code":    "UPSTREAM_ERROR",
				"message": "ドキュメント処理サービスでエラーが発生しました。",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "サーバー内部でエラーが発生しました。",
			})
		}
	}
}

// accepts は Accept ヘッダーが明示的に mime を許容しているかを返します。
// ヘッダーがない場合は許容しないものとして扱います。
func accepts(c *gin.Context, mime string) bool {
	if strings.TrimSpace(c.GetHeader("Accept")) == "" {
		return false
	}
	return c.NegotiateFormat(mime) != ""
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	body := c.Request.Body
	if body == nil {
		return nil, nil
	}
	if limit > 0 {
		body = http.MaxBytesReader(c.Writer, body, limit)
	}
	return io.ReadAll(body)
}

func respondWithError(c *gin.Context, err error) {
	var docErr *document.Error
	switch {
	case errors.As(err, &docErr):
		status := http.StatusBadRequest
		if docErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":    docErr.Code,
			"message": docErr.Message,
		})
	case errors.Is(err, ErrEmptyDocument), errors.Is(err, ErrInvalidOwner):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "FORBIDDEN",
			"message": "このジョブを参照する権限がありません。",
		})
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrDispatcherDown):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "QUEUE_UNAVAILABLE",
			"message": "現在ジョブを受け付けられません。しばらくしてから再度お試しください。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
