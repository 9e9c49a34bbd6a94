package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"go.uber.org/zap"
)

// FileAuthor is the author recorded for generated file-analysis prompts.
const FileAuthor = "File Analysis"

const fileAnalysisPrompt = `Phân tích và tóm tắt nội dung file sau (%s):

%s

Hãy:
1. Tóm tắt quá trình chính
2. Những điểm chính
3. Đề xuất hành động (nếu có)`

// SubmitFile summarizes a plain-text file through the same path as
// SubmitText. At most MaxMessageLength characters are read; invalid UTF-8
// is skipped.
func (p *Pipeline) SubmitFile(ctx context.Context, conversationID int64, displayName, filePath, fileName string, n Notifier) (string, error) {
	if !p.authorized(ctx, conversationID) {
		p.logger.Info("file request denied", zap.Int64("conversation_id", conversationID))
		return p.fail(apperr.ErrUnauthorized)
	}
	if !strings.EqualFold(filepath.Ext(fileName), ".txt") {
		return p.fail(apperr.ErrUnsupportedFileType)
	}

	content, err := readRunes(filePath, p.cfg.MaxMessageLength)
	if err != nil {
		p.logger.Warn("failed to read uploaded file",
			zap.Int64("conversation_id", conversationID),
			zap.String("file", fileName),
			zap.Error(err))
		return p.fail(apperr.Wrap(apperr.CodeEmptyInput, "read uploaded file", err))
	}
	if strings.TrimSpace(content) == "" {
		return p.fail(apperr.ErrEmptyInput)
	}

	return p.submit(ctx, request{
		conversationID: conversationID,
		displayName:    displayName,
		author:         FileAuthor,
		text:           fmt.Sprintf(fileAnalysisPrompt, fileName, content),
	}, n)
}

// readRunes returns up to limit valid runes from path. limit <= 0 reads
// the whole file.
func readRunes(path string, limit int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var b strings.Builder
	for n := 0; limit <= 0 || n < limit; {
		ch, size, err := r.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if ch == utf8.RuneError && size == 1 {
			continue
		}
		b.WriteRune(ch)
		n++
	}
	return b.String(), nil
}
