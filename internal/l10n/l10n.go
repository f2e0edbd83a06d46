// Package l10n holds the feed's static label translations. The feed ships
// Hebrew-first; English is kept for foreign readers.
package l10n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

var bundle *i18n.Bundle

// Init loads the embedded locale bundles. Hebrew is the bundle default so a
// message missing from another locale degrades to the audience language.
func Init() error {
	b := i18n.NewBundle(language.Hebrew)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localesFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read embedded locales: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := b.LoadMessageFileFS(localesFS, "locales/"+e.Name()); err != nil {
			return fmt.Errorf("load locale %s: %w", e.Name(), err)
		}
	}

	bundle = b
	return nil
}

// T resolves a label for the requested language, falling back to Hebrew and
// then English. An unknown id comes back verbatim.
func T(lang, id string, data ...any) string {
	if bundle == nil {
		return id
	}

	localizer := i18n.NewLocalizer(bundle, lang, "he", "en")
	cfg := &i18n.LocalizeConfig{
		MessageID: id,
	}
	if len(data) > 0 {
		cfg.TemplateData = data[0]
	}

	translated, err := localizer.Localize(cfg)
	if err != nil {
		return id
	}
	return translated
}
