package view

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shenikar/falconwatch/internal/models"
)

const fallbackColor = "#007bff"

// Styles - таблица отображения категорий. Неизвестная категория получает общий стиль.
type Styles struct {
	byCategory map[string]models.CategoryStyle
}

func NewStyles(styles map[string]models.CategoryStyle) *Styles {
	s := &Styles{byCategory: make(map[string]models.CategoryStyle, len(styles))}
	for category, style := range styles {
		s.byCategory[models.NormalizeCategory(category)] = style
	}
	return s
}

// ParseStyles разбирает строку вида "fire=Пожар:#ff0000,theft=Кража:#0000ff"
func ParseStyles(raw string) *Styles {
	styles := make(map[string]models.CategoryStyle)
	for _, entry := range strings.Split(raw, ",") {
		category, rest, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || category == "" {
			continue
		}
		label, color, _ := strings.Cut(rest, ":")
		styles[category] = models.CategoryStyle{Label: label, Color: color}
	}
	return NewStyles(styles)
}

// Lookup возвращает стиль категории
func (s *Styles) Lookup(category string) models.CategoryStyle {
	key := models.NormalizeCategory(category)
	style, ok := s.byCategory[key]
	if !ok {
		style = models.CategoryStyle{}
	}
	if style.Label == "" {
		style.Label = capitalize(key)
	}
	if style.Color == "" {
		style.Color = fallbackColor
	}
	return style
}

// SeverityColor - цвет маркера по важности
func SeverityColor(s models.Severity) string {
	switch s {
	case models.SeverityHigh:
		return "#FF0000"
	case models.SeverityMedium:
		return "#FFA500"
	case models.SeverityLow:
		return "#008000"
	}
	return "#888888"
}

func capitalize(s string) string {
	if s == "" {
		return "Unknown"
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
