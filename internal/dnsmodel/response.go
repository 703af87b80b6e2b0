package dnsmodel

import "github.com/hydraforge/rulerd/internal/dnswire"

// Response is the decoded form of a DNS answer: the set of resource records
// per section plus the RCODE to report.
type Response struct {
	Answers    []Record
	Additional []Record
	Authority  []Record
	ErrorCode  dnswire.RCode
}

// ResponseOption configures a Response built with NewResponse. A single
// Record passed to WithAnswer/WithAdditional/WithAuthority is equivalent to
// a one-element WithAnswers/... slice.
type ResponseOption func(*Response)

// NewResponse builds a Response defaulting to NOERROR with empty sections.
func NewResponse(opts ...ResponseOption) Response {
	r := Response{ErrorCode: dnswire.RCodeNoError}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func WithAnswer(rec Record) ResponseOption {
	return func(r *Response) { r.Answers = append(r.Answers, rec) }
}

func WithAnswers(recs []Record) ResponseOption {
	return func(r *Response) { r.Answers = append(r.Answers, recs...) }
}

func WithAdditional(rec Record) ResponseOption {
	return func(r *Response) { r.Additional = append(r.Additional, rec) }
}

func WithAdditionals(recs []Record) ResponseOption {
	return func(r *Response) { r.Additional = append(r.Additional, recs...) }
}

func WithAuthority(rec Record) ResponseOption {
	return func(r *Response) { r.Authority = append(r.Authority, rec) }
}

func WithAuthorities(recs []Record) ResponseOption {
	return func(r *Response) { r.Authority = append(r.Authority, recs...) }
}

func WithErrorCode(code dnswire.RCode) ResponseOption {
	return func(r *Response) { r.ErrorCode = code }
}

// NXDomain builds the conventional "no such name" response.
func NXDomain() Response {
	return NewResponse(WithErrorCode(dnswire.RCodeNXDomain))
}

// ServFail builds the conventional internal-error response.
func ServFail() Response {
	return NewResponse(WithErrorCode(dnswire.RCodeServFail))
}
