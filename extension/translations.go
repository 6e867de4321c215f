package extension

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultLocale is the fallback locale.
const DefaultLocale = "en"

// Translations collects message catalogs per locale. Keys registered by an
// earlier contribution are not overridden.
type Translations struct {
	catalogs map[string]map[string]string
}

// NewTranslations returns an empty catalog set.
func NewTranslations() *Translations {
	return &Translations{catalogs: make(map[string]map[string]string)}
}

// Add merges messages into locale.
func (t *Translations) Add(locale string, messages map[string]string) {
	cat, ok := t.catalogs[locale]
	if !ok {
		cat = make(map[string]string, len(messages))
		t.catalogs[locale] = cat
	}
	for k, v := range messages {
		if _, exists := cat[k]; !exists {
			cat[k] = v
		}
	}
}

// Locales lists the locales with at least one message, sorted.
func (t *Translations) Locales() []string {
	out := make([]string, 0, len(t.catalogs))
	for l := range t.catalogs {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// Translator returns a translator falling back to fallback.
func (t *Translations) Translator(fallback string) *Translator {
	if fallback == "" {
		fallback = DefaultLocale
	}
	cats := make(map[string]map[string]string, len(t.catalogs))
	for l, c := range t.catalogs {
		cp := make(map[string]string, len(c))
		for k, v := range c {
			cp[k] = v
		}
		cats[l] = cp
	}
	return &Translator{catalogs: cats, fallback: fallback}
}

func (t *Translations) String() string {
	var b strings.Builder
	for _, l := range t.Locales() {
		fmt.Fprintf(&b, "%s: %d messages\n", l, len(t.catalogs[l]))
	}
	return b.String()
}

// Translator resolves message keys.
type Translator struct {
	catalogs map[string]map[string]string
	fallback string
}

// T translates key for locale, falling back to the fallback locale and then
// to the key itself. args are applied with fmt.Sprintf when present.
func (tr *Translator) T(locale, key string, args ...any) string {
	msg, ok := tr.lookup(locale, key)
	if !ok {
		msg, ok = tr.lookup(tr.fallback, key)
	}
	if !ok {
		msg = key
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Has reports whether key is translated for locale, without fallback.
func (tr *Translator) Has(locale, key string) bool {
	_, ok := tr.lookup(locale, key)
	return ok
}

func (tr *Translator) lookup(locale, key string) (string, bool) {
	if cat, ok := tr.catalogs[locale]; ok {
		if msg, ok := cat[key]; ok {
			return msg, true
		}
	}
	// "de-AT" falls back to "de".
	if base, _, ok := strings.Cut(locale, "-"); ok {
		return tr.lookup(base, key)
	}
	return "", false
}
