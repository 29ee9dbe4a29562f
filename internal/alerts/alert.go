package alerts

import (
	"context"
	"strings"
	"time"
)

// Subjects used across the pipeline.
const (
	SubjectException        = "Exception caught!"
	SubjectStagingFull      = "No more free space in tmp directory!"
	SubjectStorageFull      = "No more free space in storage directory!"
	SubjectNoFilesReceived  = "No files received recently!"
	SubjectNoFilesVerified  = "No files verified recently!"
	SubjectNoFilesStored    = "No files stored recently!"
	SubjectSequenceMismatch = "ID mismatch detected!"
	SubjectInactiveUnits    = "Inactive units detected!"
	SubjectAllOperational   = "Everything is fine again!"
	SubjectFileErrors       = "File contains errors!"
	SubjectStoreFailed      = "Storing file failed!"
	SubjectChecksDisabled   = "Channel checks disabled!"
	SubjectTest             = "Test alert"
)

const bodyTimestampLayout = "2006-01-02T15:04:05-0700"

// Sink receives alerts from pipeline components.
type Sink interface {
	Send(ctx context.Context, subject, body string) error
}

// Message is a composed alert ready for delivery.
type Message struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Compose prefixes the subject and stamps the body with the local time.
func Compose(prefix, subject, body string, now time.Time) Message {
	subject = strings.TrimSpace(subject)
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		subject = prefix + " " + subject
	}
	return Message{
		Subject:   subject,
		Body:      now.Local().Format(bodyTimestampLayout) + "\n\n" + body,
		CreatedAt: now,
	}
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, subject, body string) error

func (f Func) Send(ctx context.Context, subject, body string) error { return f(ctx, subject, body) }

// Discard drops every alert.
var Discard Sink = Func(func(context.Context, string, string) error { return nil })
