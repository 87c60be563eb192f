package middleware

import (
	"github.com/gin-gonic/gin"

	"Guardian/pkg/i18n"
	"Guardian/pkg/response"
)

// LanguageMiddleware 从 ?lang= 或 Accept-Language 选择语言
func LanguageMiddleware(i18nSupport *i18n.I18nSupport) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := i18nSupport.Match(c.Query("lang"), c.GetHeader("Accept-Language"))
		c.Set(response.LangKey, lang)
		c.Next()
	}
}
