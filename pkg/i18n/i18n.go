package i18n

import (
	"embed"
	"encoding/json"
	"path"
	"strconv"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// I18nSupport 国际化支持结构体
type I18nSupport struct {
	bundle  *i18n.Bundle
	tags    []language.Tag
	matcher language.Matcher
	log     *zap.Logger
}

// NewI18nSupport 加载内嵌的语言文件（中文和英文）
func NewI18nSupport(defaultLang string, log *zap.Logger) (*I18nSupport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	def, err := language.Parse(defaultLang)
	if err != nil {
		def = language.English
	}
	bundle := i18n.NewBundle(def)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	tags := []language.Tag{def}
	for _, e := range entries {
		name := path.Join("locales", e.Name())
		buf, err := locales.ReadFile(name)
		if err != nil {
			return nil, err
		}
		mf, err := bundle.ParseMessageFileBytes(buf, name)
		if err != nil {
			return nil, err
		}
		if mf.Tag != def {
			tags = append(tags, mf.Tag)
		}
	}
	return &I18nSupport{bundle: bundle, tags: tags, matcher: language.NewMatcher(tags), log: log}, nil
}

// Match picks the supported language for a ?lang= value or an Accept-Language header.
func (i *I18nSupport) Match(prefs ...string) string {
	for _, p := range prefs {
		if p == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(p)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, idx, conf := i.matcher.Match(tags...)
		if conf != language.No {
			base, _ := i.tags[idx].Base()
			return base.String()
		}
	}
	base, _ := i.tags[0].Base()
	return base.String()
}

// T 获取翻译文本
func (i *I18nSupport) T(languageTag, key string, templateData map[string]interface{}) string {
	localizer := i18n.NewLocalizer(i.bundle, languageTag)

	translation, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		i.log.Debug("translation missing", zap.String("key", key), zap.String("lang", languageTag), zap.Error(err))
		return key // 返回键名作为默认值
	}
	return translation
}

// ErrorMessage returns the human-readable text for an error code.
func (i *I18nSupport) ErrorMessage(languageTag string, code int) string {
	key := "error." + strconv.Itoa(code)
	if msg := i.T(languageTag, key, nil); msg != key {
		return msg
	}
	return i.T(languageTag, "error.unknown", nil)
}
