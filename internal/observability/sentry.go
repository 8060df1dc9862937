package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

var sensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend:       scrubCredentials,
	})
}

// scrubCredentials keeps session tokens and bearer secrets out of reported events.
func scrubCredentials(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}

	for _, name := range sensitiveHeaders {
		delete(event.Request.Headers, name)
		delete(event.Request.Headers, http.CanonicalHeaderKey(name))
	}
	event.Request.Cookies = ""
	event.Request.Data = ""

	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
