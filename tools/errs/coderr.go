package errs

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	BadRequestError     = 400
	UnauthorizedError   = 401
	ForbiddenError      = 403
	NotFoundError       = 404
	ServerInternalError = 500
	UnavailableError    = 503
)

var (
	ErrBadRequest   = NewCodeError(BadRequestError, "bad request")
	ErrUnauthorized = NewCodeError(UnauthorizedError, "unauthorized")
	ErrForbidden    = NewCodeError(ForbiddenError, "forbidden")
	ErrNotFound     = NewCodeError(NotFoundError, "record not found")
	ErrInternal     = NewCodeError(ServerInternalError, "internal server error")
	ErrUnavailable  = NewCodeError(UnavailableError, "service unavailable")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap attaches a stack to a copy of e.
func (e *CodeError) Wrap() error {
	c := *e
	return errors.WithStack(&c)
}

func (e *CodeError) WrapMsg(msg string) error {
	c := e.WithDetail(msg)
	return errors.WithStack(&c)
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// HTTPStatus maps the code onto an HTTP status; unknown codes become 500.
func (e *CodeError) HTTPStatus() int {
	if e.Code >= 400 && e.Code < 600 && http.StatusText(e.Code) != "" {
		return e.Code
	}
	return http.StatusInternalServerError
}

// As extracts the CodeError carried by err, if any.
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func IsCode(err error, code int) bool {
	ce, ok := As(err)
	return ok && ce.Code == code
}
