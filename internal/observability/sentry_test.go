package observability

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
)

func TestScrubCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		Headers: map[string]string{
			"Authorization": "Bearer secret",
			"Cookie":        "access_token=abc",
			"User-Agent":    "curl",
		},
		Cookies: "access_token=abc",
		Data:    `{"password":"Password1!"}`,
	}}

	out := scrubCredentials(event, nil)

	assert.Equal(t, map[string]string{"User-Agent": "curl"}, out.Request.Headers)
	assert.Empty(t, out.Request.Cookies)
	assert.Empty(t, out.Request.Data)
	assert.Nil(t, scrubCredentials(nil, nil))
}

func TestInitSentryWithoutDSNIsNoop(t *testing.T) {
	assert.NoError(t, InitSentry("", "test"))
}
