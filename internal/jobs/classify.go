package jobs

import (
	"github.com/yourusername/paper-profile/internal/upstream"
)

// Classify は上流の応答を終端状態に振り分けます。
//
//   - 2xx: Completed（本文を結果として保持）
//   - 4xx: ErrorInternal（こちらが組み立てたリクエストの誤り）
//   - 5xx: ErrorUpstream（上流サービス自身の障害）
//
// 接続失敗やその他のステータスもすべて ErrorUpstream として扱います。
func Classify(resp *upstream.Response, err error) Outcome {
	if err != nil || resp == nil {
		return Outcome{State: StateErrorUpstream}
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{State: StateCompleted, Result: resp.Body}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Outcome{State: StateErrorInternal}
	default:
		return Outcome{State: StateErrorUpstream}
	}
}
