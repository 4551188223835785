// Package submit hands a finished voice message to the support intake service.
package submit

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"

	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// FallbackReason is reported when the service rejects a request without saying why.
const FallbackReason = "Failed to submit audio request"

// DefaultTimeout bounds one submission round trip, including transcription.
const DefaultTimeout = 2 * time.Minute

// audioField is the multipart field carrying the clip.
const audioField = "audioFile"

// Sentinel errors for submission.
var (
	// ErrEmptySubmission is returned when there is no clip to send.
	ErrEmptySubmission = errors.New("no recording to submit")

	// ErrInvalidIdentity is returned when the identity fields fail validation.
	ErrInvalidIdentity = errors.New("invalid contact details")
)

// FailedError is a submission the service answered with a failure.
type FailedError struct {
	Reason     string
	StatusCode int
}

func (e *FailedError) Error() string {
	return e.Reason
}

// TransportError is a submission that never got an answer from the service.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "failed to reach support service: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Request is one voice message with the caller's identity.
type Request struct {
	Name  string        `json:"name" validate:"required,max=200"`
	Email string        `json:"email" validate:"required,email,max=254"`
	Phone string        `json:"phone" validate:"omitempty,max=32,printascii"`
	Clip  *encoder.Clip `json:"-"`
}

// Result is the ticket the service created.
type Result struct {
	TicketID    string `json:"ticket_id"`
	Subject     string `json:"subject,omitempty"`
	Description string `json:"description,omitempty"`
	Solution    string `json:"solution,omitempty"`
}

// Submitter sends voice messages.
type Submitter interface {
	Submit(ctx context.Context, req Request) (*Result, error)
}

// response is the intake service's JSON reply.
type response struct {
	Success     bool   `json:"success"`
	TicketID    string `json:"ticketId"`
	Error       string `json:"error"`
	RequestData struct {
		Subject     string `json:"subject"`
		Description string `json:"description"`
	} `json:"requestData"`
	Analysis struct {
		Solution string `json:"solution"`
	} `json:"analysis"`
}

// Client submits voice messages as multipart POSTs.
type Client struct {
	http     *resty.Client
	endpoint string
	validate *validator.Validate
}

// NewClient creates a client posting to endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	return &Client{
		http: resty.New().
			SetTimeout(cmp.Or(timeout, DefaultTimeout)).
			SetHeader("Accept", "application/json"),
		endpoint: endpoint,
		validate: v,
	}
}

// Submit sends req. It never retries.
func (c *Client) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.Clip == nil || req.Clip.Size() == 0 {
		return nil, ErrEmptySubmission
	}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIdentity, describeValidation(err))
	}

	slog.Info("submitting voice message",
		"size", req.Clip.Size(),
		"mime_type", req.Clip.MimeType(),
		"duration", util.FormatDuration(req.Clip.Duration().Milliseconds()))

	var ok, failed response
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"name":  req.Name,
			"email": req.Email,
			"phone": req.Phone,
		}).
		SetMultipartField(audioField, req.Clip.Filename(), req.Clip.MimeType(), req.Clip.Reader()).
		SetResult(&ok).
		SetError(&failed).
		Post(c.endpoint)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.IsError() {
		slog.Warn("support service rejected voice message", "status", resp.StatusCode(), "error", failed.Error)
		return nil, &FailedError{Reason: cmp.Or(failed.Error, FallbackReason), StatusCode: resp.StatusCode()}
	}
	if !ok.Success {
		slog.Warn("support service reported failure", "status", resp.StatusCode(), "error", ok.Error)
		return nil, &FailedError{Reason: cmp.Or(ok.Error, FallbackReason), StatusCode: resp.StatusCode()}
	}

	slog.Info("ticket created", "ticket_id", ok.TicketID)
	return &Result{
		TicketID:    ok.TicketID,
		Subject:     ok.RequestData.Subject,
		Description: ok.RequestData.Description,
		Solution:    ok.Analysis.Solution,
	}, nil
}

// describeValidation renders validator errors as "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			parts = append(parts, e.Field()+" is required")
		case "email":
			parts = append(parts, e.Field()+" must be a valid email address")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param()))
		default:
			parts = append(parts, e.Field()+" is invalid")
		}
	}
	return strings.Join(parts, ", ")
}
