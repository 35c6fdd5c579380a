package videocache

import (
	"fmt"
	"net/http"
	"strings"
)

var headerValueSanitizer = strings.NewReplacer("\r", "", "\n", "")

// ResponseHead 描述写给播放器的响应头。Length 为 -1 表示未知。
type ResponseHead struct {
	Partial bool
	Offset  int64
	Length  int64
	Mime    string
}

func (h ResponseHead) LengthKnown() bool {
	return h.Length >= 0
}

func (h ResponseHead) MimeKnown() bool {
	return h.Mime != ""
}

// ContentLength 返回本次响应正文长度，区间请求为 Length-Offset。
func (h ResponseHead) ContentLength() int64 {
	if h.Partial {
		return h.Length - h.Offset
	}
	return h.Length
}

func (h ResponseHead) StatusCode() int {
	if h.Partial {
		return http.StatusPartialContent
	}
	return http.StatusOK
}

// ContentRange 返回 "bytes o-(len-1)/len"，仅在长度已知的区间请求下非空。
func (h ResponseHead) ContentRange() string {
	if !h.LengthKnown() || !h.Partial {
		return ""
	}
	return fmt.Sprintf("bytes %d-%d/%d", h.Offset, h.Length-1, h.Length)
}

// String 渲染完整的 HTTP/1.1 头部块，每行以 CRLF 结尾并以空行结束。
func (h ResponseHead) String() string {
	var b strings.Builder
	if h.Partial {
		b.WriteString("HTTP/1.1 206 Partial Content\r\n")
	} else {
		b.WriteString("HTTP/1.1 200 OK\r\n")
	}
	b.WriteString("Accept-Ranges: bytes\r\n")
	if h.LengthKnown() {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", h.ContentLength())
	}
	if cr := h.ContentRange(); cr != "" {
		fmt.Fprintf(&b, "Content-Range: %s\r\n", cr)
	}
	if h.MimeKnown() {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", headerValueSanitizer.Replace(h.Mime))
	}
	b.WriteString("\r\n")
	return b.String()
}
