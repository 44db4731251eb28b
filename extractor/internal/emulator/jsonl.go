package emulator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Line - строка JSONL записи: один такт с идентификатором сессии
type Line struct {
	SessionID string `json:"session_id"`
	signal.Tick
}

// WriteJSONL записывает такты источника в формате JSONL без пауз.
// Возвращает число записанных строк.
func WriteJSONL(ctx context.Context, w io.Writer, sessionID string, src Source) (int, error) {
	writer := bufio.NewWriter(w)
	enc := json.NewEncoder(writer)

	lines := 0
	for {
		if err := ctx.Err(); err != nil {
			return lines, err
		}
		tick, ok := src.Next()
		if !ok {
			break
		}
		if err := enc.Encode(Line{SessionID: sessionID, Tick: tick}); err != nil {
			return lines, fmt.Errorf("write failed: %w", err)
		}
		lines++
	}

	if err := writer.Flush(); err != nil {
		return lines, fmt.Errorf("flush failed: %w", err)
	}
	return lines, nil
}
