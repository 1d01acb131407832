package httperr

import "errors"

type BadRequestError struct {
	msg    string
	detail string
}

func (e *BadRequestError) Error() string { return e.msg }

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

// NewBadRequestDetail keeps msg as the error code and carries a readable
// detail for the response body.
func NewBadRequestDetail(msg string, detail string) error {
	return &BadRequestError{msg: msg, detail: detail}
}

// Detail returns the detail attached to a bad request, if any.
func Detail(err error) string {
	if e, ok := errors.AsType[*BadRequestError](err); ok {
		return e.detail
	}
	return ""
}

func IsBadRequest(err error) bool {
	_, ok := errors.AsType[*BadRequestError](err)
	return ok
}

type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func NewNotFound(msg string) error { return &NotFoundError{msg: msg} }

func IsNotFound(err error) bool {
	_, ok := errors.AsType[*NotFoundError](err)
	return ok
}

type ConflictError struct {
	msg string
}

func (e *ConflictError) Error() string { return e.msg }

func NewConflict(msg string) error { return &ConflictError{msg: msg} }

func IsConflict(err error) bool {
	_, ok := errors.AsType[*ConflictError](err)
	return ok
}
