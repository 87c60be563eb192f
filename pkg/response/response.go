package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Guardian/pkg/errors"
	"Guardian/pkg/i18n"
)

// LangKey is the gin context key the language middleware sets.
const LangKey = "lang"

var statusByCode = map[int]int{
	errors.CodePermissionDenied:    http.StatusForbidden,
	errors.CodeLocationUnavailable: http.StatusServiceUnavailable,
	errors.CodeNoRecipients:        http.StatusUnprocessableEntity,
	errors.CodeChannelWrite:        http.StatusBadGateway,
	errors.CodeTriggerEngine:       http.StatusServiceUnavailable,
	errors.CodeTriggerInFlight:     http.StatusConflict,
	errors.CodeAlertNotFound:       http.StatusNotFound,
	errors.CodeAlertResolved:       http.StatusConflict,
	errors.CodeInvalidRecord:       http.StatusBadRequest,
}

// Status maps an error code to an HTTP status.
func Status(code int) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Data writes {"data": v}.
func Data(c *gin.Context, status int, v any) {
	c.JSON(status, gin.H{"data": v})
}

// Fail aborts with {"error", "code", "message"}. message is localized when tr is set.
func Fail(c *gin.Context, tr *i18n.I18nSupport, err error) {
	code := errors.GetCode(err)
	body := gin.H{"error": err.Error(), "code": code}
	if tr != nil {
		body["message"] = tr.ErrorMessage(c.GetString(LangKey), code)
	}
	c.AbortWithStatusJSON(Status(code), body)
}

// BadRequest aborts for malformed input.
func BadRequest(c *gin.Context, tr *i18n.I18nSupport, err error) {
	Fail(c, tr, errors.WrapCode(err, errors.CodeInvalidRecord, "invalid request"))
}
