package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/brightpost/assistant/internal/convo"
)

// handleExport renders a conversation as a standalone HTML page.
// Message content is treated as markdown, which is what the model
// produces.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convs.Conversation(r.PathValue("id"))
	if err != nil {
		s.logger.Error("load conversation failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	html, err := renderTranscript(conv)
	if err != nil {
		s.logger.Error("render transcript failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(html)
}

func renderTranscript(conv *convo.Conversation) ([]byte, error) {
	md := goldmark.New()

	var body bytes.Buffer
	fmt.Fprintf(&body, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&body, "<title>Conversation %s</title>\n", conv.ID)
	body.WriteString(`<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.message { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 8px; }
.user { background: #eef3fb; }
.assistant { background: #f5f5f5; }
.tool { background: #fbf6ea; font-family: monospace; font-size: 0.85rem; white-space: pre-wrap; }
.meta { color: #888; font-size: 0.8rem; margin-bottom: 0.25rem; }
</style>
</head>
<body>
`)
	fmt.Fprintf(&body, "<h1>Conversation %s</h1>\n", conv.ID)
	fmt.Fprintf(&body, "<p class=\"meta\">%d messages, started %s</p>\n",
		conv.MessageCount, conv.CreatedAt.Format("2006-01-02 15:04 MST"))

	if conv.Summary != nil {
		body.WriteString("<div class=\"message\">\n<div class=\"meta\">summary</div>\n")
		var rendered bytes.Buffer
		if err := md.Convert([]byte(conv.Summary.Overview), &rendered); err != nil {
			return nil, fmt.Errorf("render summary: %w", err)
		}
		body.Write(rendered.Bytes())
		if len(conv.Summary.Points) > 0 {
			body.WriteString("<ul>\n")
			for _, p := range conv.Summary.Points {
				fmt.Fprintf(&body, "<li>%s</li>\n", htmlEscape(p))
			}
			body.WriteString("</ul>\n")
		}
		body.WriteString("</div>\n")
	}

	for _, m := range conv.Messages {
		if m.Role == convo.RoleSystem {
			continue
		}

		cls := m.Role
		fmt.Fprintf(&body, "<div class=\"message %s\">\n", cls)
		fmt.Fprintf(&body, "<div class=\"meta\">%s · %s</div>\n", m.Role, m.Timestamp.Format(time.RFC3339))

		if m.Role == convo.RoleTool {
			body.WriteString(htmlEscape(m.Content))
		} else {
			var rendered bytes.Buffer
			if err := md.Convert([]byte(m.Content), &rendered); err != nil {
				return nil, fmt.Errorf("render message %s: %w", m.ID, err)
			}
			body.Write(rendered.Bytes())
		}
		body.WriteString("\n</div>\n")
	}

	body.WriteString("</body>\n</html>\n")
	return body.Bytes(), nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
