// ABOUTME: Markdown rendering for outgoing Matrix messages
// ABOUTME: Produces formatted_body HTML with goldmark when the text carries formatting

package matrixengine

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
)

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
}

// messageContent builds a text message. formatted_body is only set when
// the markdown renders to more than the text itself.
func messageContent(md goldmark.Markdown, body string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return content
	}

	rendered := strings.TrimSpace(buf.String())
	if inner, ok := singleParagraph(rendered); ok {
		rendered = inner
	}
	if html.UnescapeString(rendered) == strings.TrimSpace(body) {
		return content
	}

	content.Format = event.FormatHTML
	content.FormattedBody = rendered
	return content
}

func singleParagraph(s string) (string, bool) {
	if !strings.HasPrefix(s, "<p>") || !strings.HasSuffix(s, "</p>") {
		return "", false
	}
	inner := s[len("<p>") : len(s)-len("</p>")]
	if strings.Contains(inner, "<p>") {
		return "", false
	}
	return inner, true
}
