package model

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable failure classification surfaced to callers and persisted
// on failed documents and jobs
type ErrorCode string

const (
	CodeURLNotAllowed       ErrorCode = "URL_NOT_ALLOWED"
	CodeURLTooLarge         ErrorCode = "URL_TOO_LARGE"
	CodeURLFetchFailed      ErrorCode = "URL_FETCH_FAILED"
	CodeDNSTimeout          ErrorCode = "DNS_TIMEOUT"
	CodeBlocked403          ErrorCode = "blocked_403"
	CodeRateLimited429      ErrorCode = "rate_limited_429"
	CodeCaptchaChallenge    ErrorCode = "captcha_challenge"
	CodeJSShellDetected     ErrorCode = "js_shell_detected"
	CodeHeadlessBlocked     ErrorCode = "headless_blocked"
	CodeHeadlessTimeout     ErrorCode = "headless_timeout"
	CodeHeadlessError       ErrorCode = "headless_error"
	CodeHeadlessNoItems     ErrorCode = "headless_no_items"
	CodeHeadlessUnavailable ErrorCode = "headless_unavailable"

	CodeTextTooShort      ErrorCode = "TEXT_TOO_SHORT"
	CodeQuotaExceeded     ErrorCode = "CHUNK_QUOTA_EXCEEDED"
	CodePDFTooManyPages   ErrorCode = "PDF_TOO_MANY_PAGES"
	CodeExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	CodeUnsupportedSource ErrorCode = "UNSUPPORTED_SOURCE"
	CodeEmbeddingFailed   ErrorCode = "EMBEDDING_FAILED"
	CodeStructuringFailed ErrorCode = "STRUCTURING_FAILED"
	CodeStaleProcessing   ErrorCode = "STALE_PROCESSING"
	CodeRejectedByAdmin   ErrorCode = "REJECTED_BY_ADMIN"
	CodeInternal          ErrorCode = "INTERNAL"
)

var codeMessages = map[ErrorCode]string{
	CodeURLNotAllowed:       "The URL is not allowed. Only public https addresses on the standard port can be fetched.",
	CodeURLTooLarge:         "The content at the URL is too large to process.",
	CodeURLFetchFailed:      "The URL could not be fetched.",
	CodeDNSTimeout:          "The website address could not be resolved in time.",
	CodeBlocked403:          "Access to the website was denied (HTTP 403). The site blocks automated access; please upload a PDF or screenshot instead.",
	CodeRateLimited429:      "The website is rate limiting requests (HTTP 429). Please try again later or upload a PDF or screenshot.",
	CodeCaptchaChallenge:    "The website requires a CAPTCHA or browser challenge. Please upload a PDF or screenshot instead.",
	CodeJSShellDetected:     "The website renders its content with JavaScript only.",
	CodeHeadlessBlocked:     "The website blocked the rendering service (HTTP 429). Please try again later or upload a PDF or screenshot.",
	CodeHeadlessTimeout:     "Rendering the website took too long.",
	CodeHeadlessError:       "The website could not be rendered.",
	CodeHeadlessNoItems:     "No catalog content could be found on the rendered website.",
	CodeHeadlessUnavailable: "The website needs JavaScript rendering, which is not configured.",
	CodeTextTooShort:        "Not enough text could be extracted from the source.",
	CodeQuotaExceeded:       "The knowledge base size limit has been reached.",
	CodePDFTooManyPages:     "The PDF has too many pages.",
	CodeExtractionFailed:    "Text could not be extracted from the source.",
	CodeUnsupportedSource:   "The source type is not supported.",
	CodeEmbeddingFailed:     "The text could not be indexed.",
	CodeStructuringFailed:   "Catalog items could not be extracted from the text.",
	CodeStaleProcessing:     "Processing did not finish in time.",
	CodeRejectedByAdmin:     "Rejected by admin",
	CodeInternal:            "An internal error occurred.",
}

// Message returns the human readable message paired with the code
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return codeMessages[CodeInternal]
}

func (c ErrorCode) String() string {
	return string(c)
}

// IngestError is a classified ingestion failure
type IngestError struct {
	Code   ErrorCode
	Reason string
}

// NewIngestError creates a classified error. Reason is optional detail appended to the code.
func NewIngestError(code ErrorCode, reason string) *IngestError {
	return &IngestError{Code: code, Reason: reason}
}

// Errorf creates a classified error with a formatted reason
func Errorf(code ErrorCode, format string, args ...any) *IngestError {
	return &IngestError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (e *IngestError) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Reason
}

// Is matches another IngestError by code so that errors.Is works against
// code-only sentinels like &IngestError{Code: CodeBlocked403}
func (e *IngestError) Is(target error) bool {
	var t *IngestError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first IngestError in the chain, or CodeInternal
func CodeOf(err error) ErrorCode {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	var ie *IngestError
	return errors.As(err, &ie) && ie.Code == code
}

// Failure is the persisted {code, message} pair of a terminal failure
type Failure struct {
	Code    ErrorCode
	Message string
}

// FailureOf converts an error into a Failure. Classified errors keep their code and
// human message (with the reason for policy violations); anything else becomes INTERNAL.
func FailureOf(err error) *Failure {
	if err == nil {
		return nil
	}
	var ie *IngestError
	if !errors.As(err, &ie) {
		return &Failure{Code: CodeInternal, Message: CodeInternal.Message()}
	}

	msg := ie.Code.Message()
	if ie.Code == CodeURLNotAllowed && ie.Reason != "" {
		msg = ie.Error()
	}
	return &Failure{Code: ie.Code, Message: msg}
}
