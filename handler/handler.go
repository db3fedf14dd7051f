package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"sms-agent/internal/security"
	"sms-agent/internal/usecase"
)

// User-facing texts for rejection and failure paths. Short, non-technical,
// and free of internal detail.
const (
	slowDownMinuteReply = "You're sending messages a little fast. Please wait a minute and try again."
	slowDownHourReply   = "You've reached the hourly message limit. Please try again later."
	fallbackReply       = "I'm having trouble right now, please try again."
)

// ChatService is the conversation manager consumed by the handler.
type ChatService interface {
	Handle(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// Handler terminates the SMS gateway webhook: it decodes the form payload,
// runs the admission pipeline, dispatches admitted messages to the chat
// service, and renders the TwiML reply envelope.
type Handler struct {
	pipeline *security.Pipeline
	chat     ChatService

	maxSMSLength     int
	truncationSuffix string
	publicURL        string
}

// NewHandler wires the webhook handler. publicURL optionally overrides the
// reconstructed callback URL used for signature verification.
func NewHandler(pipeline *security.Pipeline, chat ChatService, maxSMSLength int, truncationSuffix, publicURL string) (*Handler, error) {
	if pipeline == nil {
		return nil, errors.New("handler: admission pipeline must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if maxSMSLength <= 0 {
		maxSMSLength = 1600
	}
	return &Handler{
		pipeline:         pipeline,
		chat:             chat,
		maxSMSLength:     maxSMSLength,
		truncationSuffix: truncationSuffix,
		publicURL:        strings.TrimSpace(publicURL),
	}, nil
}

// Handle processes one inbound webhook invocation. Rejections and
// recoverable failures all produce a 2xx TwiML reply so the gateway
// relays a message to the user; only forged or malformed requests get a
// non-2xx with no message body.
func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	requestID := uuid.NewString()

	params, err := parseForm(req)
	if err != nil {
		slog.Warn("malformed webhook body", "request_id", requestID, "err", err)
		return textResponse(http.StatusBadRequest, "bad request"), nil
	}

	msg, verdict := h.pipeline.Admit(security.InboundRequest{
		URL:       h.callbackURL(req),
		Params:    params,
		Signature: header(req, "x-twilio-signature"),
		From:      params["From"],
		Body:      params["Body"],
	})
	switch verdict {
	case security.RejectedSignature:
		slog.Warn("webhook signature rejected", "request_id", requestID)
		return textResponse(http.StatusForbidden, "forbidden"), nil
	case security.RejectedIdentity:
		slog.Warn("webhook missing sender identity", "request_id", requestID)
		return textResponse(http.StatusBadRequest, "bad request"), nil
	case security.RejectedRateMinute:
		return h.reply(slowDownMinuteReply), nil
	case security.RejectedRateHour:
		return h.reply(slowDownHourReply), nil
	}

	out, err := h.chat.Handle(ctx, usecase.ChatInput{
		UserID:    msg.From,
		Message:   msg.Body,
		RequestID: requestID,
	})
	if err != nil {
		slog.Error("chat turn failed", "request_id", requestID, "err", err)
		return h.reply(errorReply(err)), nil
	}
	if out.StorageDegraded {
		slog.Warn("turn served with degraded storage", "request_id", requestID)
	}

	return h.reply(out.Reply), nil
}

// errorReply maps a chat-service error to a user-facing text. Details stay
// in the logs.
func errorReply(err error) string {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorRateLimited {
		return "I'm getting a lot of requests right now. Please try again in a minute."
	}
	return fallbackReply
}

// reply renders a reply text as a 200 TwiML response, truncated to the
// SMS length limit.
func (h *Handler) reply(text string) events.LambdaFunctionURLResponse {
	text = security.Truncate(text, h.maxSMSLength, h.truncationSuffix)
	return events.LambdaFunctionURLResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"content-type": "text/xml"},
		Body:       twimlMessage(text),
	}
}

func textResponse(status int, body string) events.LambdaFunctionURLResponse {
	return events.LambdaFunctionURLResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "text/plain"},
		Body:       body,
	}
}

// callbackURL reconstructs the URL the gateway signed. The configured
// public URL wins when set; it must match the webhook URL configured at
// the gateway exactly.
func (h *Handler) callbackURL(req events.LambdaFunctionURLRequest) string {
	base := h.publicURL
	if base == "" {
		base = "https://" + req.RequestContext.DomainName + req.RawPath
	}
	if req.RawQueryString != "" {
		base += "?" + req.RawQueryString
	}
	return base
}

// parseForm decodes the urlencoded webhook body into a flat parameter
// map. Function URL invocations base64-encode binary-ish bodies.
func parseForm(req events.LambdaFunctionURLRequest) (map[string]string, error) {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("handler: decode body: %w", err)
		}
		body = string(decoded)
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("handler: parse form: %w", err)
	}
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}

// header looks up a request header case-insensitively. Function URL
// events lower-case header names, but don't rely on it.
func header(req events.LambdaFunctionURLRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
