package security

import "errors"

// InboundRequest is the raw webhook material consumed by the admission
// pipeline.
type InboundRequest struct {
	// URL is the full callback URL the gateway signed.
	URL string
	// Params is the posted form parameter set.
	Params map[string]string
	// Signature is the digest provided by the gateway.
	Signature string

	From string
	Body string
}

// Verdict is the pipeline's request-level decision.
type Verdict int

const (
	Admitted Verdict = iota
	RejectedSignature
	RejectedIdentity
	RejectedRateMinute
	RejectedRateHour
)

// Message is the sanitized inbound message produced on admission.
type Message struct {
	From string
	Body string
}

// Pipeline composes signature verification, rate limiting, and input
// sanitization into a single admission decision, applied once per inbound
// message before any conversation state is touched. A forged request is
// rejected before the rate limiter records anything.
type Pipeline struct {
	verifier  *SignatureVerifier
	limiter   *RateLimiter
	sanitizer *Sanitizer
}

// NewPipeline wires the three admission stages.
func NewPipeline(v *SignatureVerifier, l *RateLimiter, s *Sanitizer) (*Pipeline, error) {
	if v == nil {
		return nil, errors.New("security: signature verifier must not be nil")
	}
	if l == nil {
		return nil, errors.New("security: rate limiter must not be nil")
	}
	if s == nil {
		return nil, errors.New("security: sanitizer must not be nil")
	}
	return &Pipeline{verifier: v, limiter: l, sanitizer: s}, nil
}

// Admit runs the ordered checks and returns the sanitized message on
// success.
func (p *Pipeline) Admit(req InboundRequest) (Message, Verdict) {
	if !p.verifier.Verify(req.URL, req.Params, req.Signature) {
		return Message{}, RejectedSignature
	}

	from := CleanPhoneNumber(req.From)
	if from == "" {
		return Message{}, RejectedIdentity
	}

	switch p.limiter.CheckAndRecord(from) {
	case RejectMinute:
		return Message{}, RejectedRateMinute
	case RejectHour:
		return Message{}, RejectedRateHour
	}

	return Message{From: from, Body: p.sanitizer.CleanMessage(req.Body)}, Admitted
}
