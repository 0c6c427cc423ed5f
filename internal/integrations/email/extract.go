package email

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"
)

// extractPlainText pulls the plain-text body out of a raw RFC 5322
// message, walking multipart boundaries and decoding quoted-printable and
// base64 transfer encodings. HTML-only messages fall back to the HTML
// body as-is.
func extractPlainText(raw []byte) (string, error) {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}

	plain, html, err := extractFromEntity(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return "", err
	}
	if plain != "" {
		return strings.TrimSpace(plain), nil
	}
	return strings.TrimSpace(html), nil
}

func extractFromEntity(contentType, encoding string, body io.Reader) (plain, html string, err error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", "", fmt.Errorf("multipart message without boundary")
		}
		return extractFromMultipart(body, boundary)
	}

	decoded, err := io.ReadAll(decodeTransfer(body, encoding))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}
	switch {
	case strings.HasPrefix(mediaType, "text/html"):
		return "", string(decoded), nil
	default:
		return string(decoded), "", nil
	}
}

func extractFromMultipart(body io.Reader, boundary string) (plain, html string, err error) {
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		partPlain, partHTML, err := extractFromEntity(
			part.Header.Get("Content-Type"),
			part.Header.Get("Content-Transfer-Encoding"),
			part,
		)
		part.Close()
		if err != nil {
			continue
		}
		if plain == "" {
			plain = partPlain
		}
		if html == "" {
			html = partHTML
		}
	}
	return plain, html, nil
}

// decodeTransfer wraps a reader with the decoder for its
// Content-Transfer-Encoding.
func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

// replySubject prefixes Re: unless the subject already carries it.
func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// composeReply renders the outgoing reply with threading headers derived
// from the incoming message id.
func composeReply(from, to, subject, inReplyTo, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", replySubject(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", inReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
