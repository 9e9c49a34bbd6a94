package apperr

import "fmt"

const (
	LocaleVietnamese = "vi"
	LocaleEnglish    = "en"
)

var catalog = map[string]map[Code]string{
	LocaleVietnamese: {
		CodeUnknown:             "❌ Lỗi không xác định",
		CodeInvalidArgument:     "❌ Tham số không hợp lệ",
		CodeAlreadyQueued:       "⏳ Yêu cầu trước của bạn vẫn đang trong hàng đợi",
		CodeUnauthorized:        "❌ Bạn không có quyền truy cập bot này.",
		CodeInputTooLarge:       "❌ Tin nhắn quá dài",
		CodeEmptyInput:          "❌ File trống hoặc không thể đọc",
		CodeUnsupportedFileType: "❌ Chỉ hỗ trợ file .txt",
		CodeNotFound:            "❌ Không tìm thấy",
		CodeStorage:             "❌ Lỗi lưu trữ, vui lòng thử lại",
		CodeBackendUnavailable:  "❌ Không kết nối được tới AI engine",
		CodeBackendError:        "❌ AI engine báo lỗi",
		CodeBackendTimeout:      "❌ AI engine phản hồi quá lâu",
		CodeEmptyResponse:       "❌ AI engine không trả lời",
		CodeCanceled:            "❌ Yêu cầu đã bị hủy",
	},
	LocaleEnglish: {
		CodeUnknown:             "❌ Unknown error",
		CodeInvalidArgument:     "❌ Invalid argument",
		CodeAlreadyQueued:       "⏳ Your previous request is still queued",
		CodeUnauthorized:        "❌ You are not allowed to use this bot.",
		CodeInputTooLarge:       "❌ Message is too long",
		CodeEmptyInput:          "❌ File is empty or unreadable",
		CodeUnsupportedFileType: "❌ Only .txt files are supported",
		CodeNotFound:            "❌ Not found",
		CodeStorage:             "❌ Storage error, please retry",
		CodeBackendUnavailable:  "❌ Cannot reach the AI engine",
		CodeBackendError:        "❌ The AI engine reported an error",
		CodeBackendTimeout:      "❌ The AI engine took too long",
		CodeEmptyResponse:       "❌ The AI engine returned nothing",
		CodeCanceled:            "❌ Request canceled",
	},
}

// UserMessage renders err as the short string shown in place of a reply.
// Unknown locales fall back to Vietnamese.
func UserMessage(err error, locale string) string {
	if err == nil {
		return ""
	}
	msgs, ok := catalog[locale]
	if !ok {
		msgs = catalog[LocaleVietnamese]
	}
	if m, ok := msgs[CodeOf(err)]; ok {
		return m
	}
	return msgs[CodeUnknown]
}

// QueuedNotice is the wait message sent when a request lands behind others.
func QueuedNotice(position int, locale string) string {
	if locale == LocaleEnglish {
		return fmt.Sprintf("⏳ Waiting... (queue position: #%d)\n%d request(s) ahead of you.", position, position-1)
	}
	return fmt.Sprintf("⏳ Đang đợi... (Vị trí trong hàng: #%d)\nTrước bạn có %d yêu cầu.", position, position-1)
}

// TooLongNotice includes the limit, as the plain code message does not.
func TooLongNotice(limit int, locale string) string {
	if locale == LocaleEnglish {
		return fmt.Sprintf("❌ Message is too long (max %d characters)", limit)
	}
	return fmt.Sprintf("❌ Tin nhắn quá dài (tối đa %d ký tự)", limit)
}

// AlreadyQueuedNotice tells a caller with a request in flight where it stands.
func AlreadyQueuedNotice(position int, locale string) string {
	if locale == LocaleEnglish {
		if position == 0 {
			return "⏳ Your previous request is being processed"
		}
		return fmt.Sprintf("⏳ Your previous request is still queued (position #%d)", position)
	}
	if position == 0 {
		return "⏳ Yêu cầu trước của bạn đang được xử lý"
	}
	return fmt.Sprintf("⏳ Yêu cầu trước của bạn vẫn đang trong hàng đợi (vị trí #%d)", position)
}
