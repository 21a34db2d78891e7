// Package override is the administrative command channel. Every user has
// one override document; an administrator merge-writes typed sub-payloads
// onto it and the user's sessions react to them.
package override

import (
	"strings"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// Top-level fields of an override document.
const (
	FieldTheme        = "theme"
	FieldAppSettings  = "appSettings"
	FieldVisualMatrix = "visualMatrix"
	FieldConfig       = "config"
	FieldBroadcast    = "broadcast"
	FieldTakeover     = "takeover"
	FieldGhost        = "ghostPayload"
	FieldAudio        = "audio"
	// FieldTimestamp is the bookkeeping time of the last push, in ms.
	FieldTimestamp = "timestamp"
)

// Override is one sub-payload. The set of implementations is closed.
type Override interface {
	// Field is the document field the payload is stored under.
	Field() string
	// Validate rejects payloads a session could not apply.
	Validate() error
	isOverride()
}

// Timestamped is implemented by event payloads that fire once per trigger.
type Timestamped interface {
	Override
	Triggered() int64
	withTrigger(ms int64) Override
}

func invalid(field, format string, args ...any) error {
	return pdterrors.NewValidationError("override "+field, format, args...)
}

// Theme is the color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ThemeOverride forces the color scheme. It is stored as a bare string.
type ThemeOverride struct {
	Theme Theme
}

func (ThemeOverride) Field() string { return FieldTheme }
func (ThemeOverride) isOverride()   {}

func (o ThemeOverride) Validate() error {
	if o.Theme != ThemeDark && o.Theme != ThemeLight {
		return invalid(FieldTheme, "unknown theme %q", o.Theme)
	}
	return nil
}

// AppSettingsOverride replaces the background settings present in it.
type AppSettingsOverride struct {
	BackgroundURL     *string  `json:"backgroundUrl,omitempty"`
	BackgroundBlur    *float64 `json:"backgroundBlur,omitempty"`
	BackgroundOpacity *float64 `json:"backgroundOpacity,omitempty"`
	DiscoMode         *bool    `json:"discoMode,omitempty"`
}

func (AppSettingsOverride) Field() string { return FieldAppSettings }
func (AppSettingsOverride) isOverride()   {}

func (o AppSettingsOverride) Validate() error {
	if o.BackgroundURL == nil && o.BackgroundBlur == nil && o.BackgroundOpacity == nil && o.DiscoMode == nil {
		return invalid(FieldAppSettings, "empty payload")
	}
	if o.BackgroundBlur != nil && *o.BackgroundBlur < 0 {
		return invalid(FieldAppSettings, "negative blur %v", *o.BackgroundBlur)
	}
	if o.BackgroundOpacity != nil && (*o.BackgroundOpacity < 0 || *o.BackgroundOpacity > 100) {
		return invalid(FieldAppSettings, "opacity %v outside 0..100", *o.BackgroundOpacity)
	}
	return nil
}

// ApplyTo overlays the present fields on s.
func (o AppSettingsOverride) ApplyTo(s model.AppSettings) model.AppSettings {
	if o.BackgroundURL != nil {
		s.BackgroundURL = *o.BackgroundURL
	}
	if o.BackgroundBlur != nil {
		s.BackgroundBlur = *o.BackgroundBlur
	}
	if o.BackgroundOpacity != nil {
		s.BackgroundOpacity = *o.BackgroundOpacity
	}
	if o.DiscoMode != nil {
		s.DiscoMode = *o.DiscoMode
	}
	return s
}

// VisualMatrixOverride restyles the interface.
type VisualMatrixOverride struct {
	AccentColor  string `json:"accentColor,omitempty"`
	BorderRadius string `json:"borderRadius,omitempty"`
	FontType     string `json:"fontType,omitempty"`
	Filter       string `json:"filter,omitempty"`
}

func (VisualMatrixOverride) Field() string { return FieldVisualMatrix }
func (VisualMatrixOverride) isOverride()   {}

func (o VisualMatrixOverride) Validate() error {
	if o == (VisualMatrixOverride{}) {
		return invalid(FieldVisualMatrix, "empty payload")
	}
	if o.AccentColor != "" && !isColor(o.AccentColor) {
		return invalid(FieldVisualMatrix, "accent color %q", o.AccentColor)
	}
	return nil
}

// isColor accepts #rgb, #rgba, #rrggbb, #rrggbbaa and CSS functional or
// named colors.
func isColor(s string) bool {
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		switch len(hex) {
		case 3, 4, 6, 8:
		default:
			return false
		}
		for _, c := range hex {
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return false
			}
		}
		return true
	}
	return strings.TrimSpace(s) != "" && !strings.ContainsAny(s, ";{}")
}

// ForcedConfigOverride forces generation parameters. Absent fields keep
// the session's own value.
type ForcedConfigOverride struct {
	Model             *string  `json:"model,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"topP,omitempty"`
	TopK              *float64 `json:"topK,omitempty"`
	SystemInstruction *string  `json:"systemInstruction,omitempty"`
	ThinkingBudget    *int     `json:"thinkingBudget,omitempty"`
}

func (ForcedConfigOverride) Field() string { return FieldConfig }
func (ForcedConfigOverride) isOverride()   {}

func (o ForcedConfigOverride) Validate() error {
	if o == (ForcedConfigOverride{}) {
		return invalid(FieldConfig, "empty payload")
	}
	if o.Model != nil && strings.TrimSpace(*o.Model) == "" {
		return invalid(FieldConfig, "empty model id")
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		return invalid(FieldConfig, "temperature %v outside 0..2", *o.Temperature)
	}
	if o.TopP != nil && (*o.TopP < 0 || *o.TopP > 1) {
		return invalid(FieldConfig, "topP %v outside 0..1", *o.TopP)
	}
	if o.TopK != nil && *o.TopK < 1 {
		return invalid(FieldConfig, "topK %v below 1", *o.TopK)
	}
	if o.ThinkingBudget != nil && *o.ThinkingBudget < 0 {
		return invalid(FieldConfig, "negative thinking budget")
	}
	return nil
}

// ApplyTo overlays the forced parameters on cfg.
func (o ForcedConfigOverride) ApplyTo(cfg model.ChatConfig) model.ChatConfig {
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		cfg.TopP = *o.TopP
	}
	if o.TopK != nil {
		cfg.TopK = *o.TopK
	}
	if o.SystemInstruction != nil {
		cfg.SystemInstruction = *o.SystemInstruction
	}
	if o.ThinkingBudget != nil {
		cfg.ThinkingBudget = *o.ThinkingBudget
	}
	return cfg
}

// BroadcastOverride shows a banner for a fixed duration.
type BroadcastOverride struct {
	Text             string `json:"text"`
	TriggerTimestamp int64  `json:"timestamp"`
}

func (BroadcastOverride) Field() string      { return FieldBroadcast }
func (BroadcastOverride) isOverride()        {}
func (o BroadcastOverride) Triggered() int64 { return o.TriggerTimestamp }

func (o BroadcastOverride) withTrigger(ms int64) Override {
	o.TriggerTimestamp = ms
	return o
}

func (o BroadcastOverride) Validate() error {
	if strings.TrimSpace(o.Text) == "" {
		return invalid(FieldBroadcast, "empty text")
	}
	return validTrigger(FieldBroadcast, o.TriggerTimestamp)
}

// TakeoverOverride starts a named full-screen takeover that ends on its
// own after a fixed duration.
type TakeoverOverride struct {
	ID               string `json:"id"`
	TriggerTimestamp int64  `json:"timestamp"`
}

func (TakeoverOverride) Field() string      { return FieldTakeover }
func (TakeoverOverride) isOverride()        {}
func (o TakeoverOverride) Triggered() int64 { return o.TriggerTimestamp }

func (o TakeoverOverride) withTrigger(ms int64) Override {
	o.TriggerTimestamp = ms
	return o
}

func (o TakeoverOverride) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return invalid(FieldTakeover, "empty takeover id")
	}
	return validTrigger(FieldTakeover, o.TriggerTimestamp)
}

// GhostMessageOverride asks the target session to add a message from
// Sender to its own chat.
type GhostMessageOverride struct {
	Text             string `json:"text"`
	Sender           string `json:"sender"`
	TriggerTimestamp int64  `json:"timestamp"`
}

func (GhostMessageOverride) Field() string      { return FieldGhost }
func (GhostMessageOverride) isOverride()        {}
func (o GhostMessageOverride) Triggered() int64 { return o.TriggerTimestamp }

func (o GhostMessageOverride) withTrigger(ms int64) Override {
	o.TriggerTimestamp = ms
	return o
}

func (o GhostMessageOverride) Validate() error {
	if strings.TrimSpace(o.Text) == "" {
		return invalid(FieldGhost, "empty text")
	}
	if strings.TrimSpace(o.Sender) == "" {
		return invalid(FieldGhost, "empty sender")
	}
	return validTrigger(FieldGhost, o.TriggerTimestamp)
}

// AudioOverride starts or stops external media.
type AudioOverride struct {
	URL     string `json:"url,omitempty"`
	Playing bool   `json:"playing"`
}

func (AudioOverride) Field() string { return FieldAudio }
func (AudioOverride) isOverride()   {}

func (o AudioOverride) Validate() error {
	if o.Playing && strings.TrimSpace(o.URL) == "" {
		return invalid(FieldAudio, "play without url")
	}
	return nil
}

// validTrigger accepts zero, which Push replaces with the current time.
func validTrigger(field string, ms int64) error {
	if ms < 0 {
		return invalid(field, "negative trigger timestamp %d", ms)
	}
	return nil
}
