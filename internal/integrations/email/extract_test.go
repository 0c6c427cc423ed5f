package email

import (
	"strings"
	"testing"
)

const plainMessage = "From: alice@example.com\r\n" +
	"To: bot@example.com\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Just a plain question.\r\n"

const quotedPrintableMessage = "From: alice@example.com\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"caf=C3=A9 time\r\n"

const base64Message = "From: alice@example.com\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aGVsbG8gZnJvbSBiYXNlNjQ=\r\n"

const multipartMessage = "From: alice@example.com\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>rich version</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain version\r\n" +
	"--XYZ--\r\n"

const htmlOnlyMessage = "From: alice@example.com\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>only html</p>\r\n"

func TestExtractPlainText(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", plainMessage, "Just a plain question."},
		{"quoted printable", quotedPrintableMessage, "café time"},
		{"base64", base64Message, "hello from base64"},
		{"multipart prefers plain", multipartMessage, "plain version"},
		{"html only falls back", htmlOnlyMessage, "<p>only html</p>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractPlainText([]byte(tc.raw))
			if err != nil {
				t.Fatalf("extractPlainText: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReplySubject(t *testing.T) {
	if got := replySubject("hello"); got != "Re: hello" {
		t.Errorf("got %q", got)
	}
	if got := replySubject("Re: hello"); got != "Re: hello" {
		t.Errorf("got %q", got)
	}
	if got := replySubject("RE: hello"); got != "RE: hello" {
		t.Errorf("got %q", got)
	}
}

func TestComposeReplyThreading(t *testing.T) {
	payload := string(composeReply("bot@example.com", "alice@example.com", "hello", "<msg-1@example.com>", "the answer"))

	for _, want := range []string{
		"From: bot@example.com\r\n",
		"To: alice@example.com\r\n",
		"Subject: Re: hello\r\n",
		"In-Reply-To: <msg-1@example.com>\r\n",
		"References: <msg-1@example.com>\r\n",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("missing header %q in:\n%s", want, payload)
		}
	}
	header, body, ok := strings.Cut(payload, "\r\n\r\n")
	if !ok || !strings.Contains(body, "the answer") {
		t.Errorf("body missing: header=%q body=%q", header, body)
	}
}

func TestComposeReplyWithoutMessageID(t *testing.T) {
	payload := string(composeReply("bot@example.com", "alice@example.com", "hi", "", "ok"))
	if strings.Contains(payload, "In-Reply-To") {
		t.Errorf("unexpected threading headers:\n%s", payload)
	}
}
