package errors

import "net/http"

// httpStatus maps the common taxonomy codes to their HTTP status. Codes not
// present here fall back to 500, matching InternalCatalogError's default.
var httpStatus = map[Code]int{
	CommonNotFound:             http.StatusNotFound,
	CommonForbidden:            http.StatusForbidden,
	CommonUnauthorized:         http.StatusUnauthorized,
	CommonAlreadyExists:        http.StatusConflict,
	CommonConflict:             http.StatusConflict,
	CommonInvalidInput:         http.StatusBadRequest,
	CommonValidation:           http.StatusBadRequest,
	CommonContractViolated:     http.StatusConflict,
	CommonStorageUnavailable:   http.StatusBadGateway,
	CommonAuthorizationFailure: http.StatusInternalServerError,
	CommonInternal:             http.StatusInternalServerError,
}

// HTTPStatus projects an error onto the HTTP status code an edge router
// would return for it.
func HTTPStatus(err error) int {
	e := AsError(err)
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Body is the management API's structured error body shape.
type Body struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    string `json:"code"`
		Stack   string `json:"stack,omitempty"`
	} `json:"error"`
}

// ToBody renders err into the management-API error body shape.
func ToBody(err error, includeStack bool) Body {
	e := AsError(err)
	var b Body
	b.Error.Type = e.Code.Name()
	b.Error.Message = e.Message
	b.Error.Code = e.Code.String()
	if includeStack {
		b.Error.Stack = FormatError(e)
	}
	return b
}
