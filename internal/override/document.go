package override

import (
	"encoding/json"
	"fmt"

	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/sanitize"
)

// Document is the decoded override document of one user. Absent or
// invalid sub-payloads are nil.
type Document struct {
	UserID       string
	Theme        *ThemeOverride
	AppSettings  *AppSettingsOverride
	VisualMatrix *VisualMatrixOverride
	Config       *ForcedConfigOverride
	Broadcast    *BroadcastOverride
	Takeover     *TakeoverOverride
	Ghost        *GhostMessageOverride
	Audio        *AudioOverride
	// Timestamp is the time of the last push in ms.
	Timestamp int64
}

// Payloads returns the present sub-payloads.
func (d *Document) Payloads() []Override {
	var out []Override
	if d.Theme != nil {
		out = append(out, *d.Theme)
	}
	if d.AppSettings != nil {
		out = append(out, *d.AppSettings)
	}
	if d.VisualMatrix != nil {
		out = append(out, *d.VisualMatrix)
	}
	if d.Config != nil {
		out = append(out, *d.Config)
	}
	if d.Broadcast != nil {
		out = append(out, *d.Broadcast)
	}
	if d.Takeover != nil {
		out = append(out, *d.Takeover)
	}
	if d.Ghost != nil {
		out = append(out, *d.Ghost)
	}
	if d.Audio != nil {
		out = append(out, *d.Audio)
	}
	return out
}

// FieldError describes a sub-payload dropped while decoding.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %v", e.Field, e.Err) }

// Decode converts a stored document. Invalid sub-payloads are left nil and
// reported; they never fail the whole document.
func Decode(raw model.Document) (*Document, []FieldError) {
	d := &Document{UserID: raw.ID()}
	var problems []FieldError

	if ts, ok := raw[FieldTimestamp].(float64); ok {
		d.Timestamp = int64(ts)
	}
	for field, v := range raw {
		if field == "id" || field == FieldTimestamp || v == nil {
			continue
		}
		o, err := decodeField(field, v)
		if err != nil {
			problems = append(problems, FieldError{Field: field, Err: err})
			continue
		}
		if o == nil {
			continue
		}
		if err := o.Validate(); err != nil {
			problems = append(problems, FieldError{Field: field, Err: err})
			continue
		}
		d.set(o)
	}
	return d, problems
}

func decodeField(field string, v any) (Override, error) {
	switch field {
	case FieldTheme:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("theme is %T, want string", v)
		}
		return ThemeOverride{Theme: Theme(s)}, nil
	case FieldAppSettings:
		return decodeAs[AppSettingsOverride](v)
	case FieldVisualMatrix:
		return decodeAs[VisualMatrixOverride](v)
	case FieldConfig:
		return decodeAs[ForcedConfigOverride](v)
	case FieldBroadcast:
		return decodeAs[BroadcastOverride](v)
	case FieldTakeover:
		return decodeAs[TakeoverOverride](v)
	case FieldGhost:
		return decodeAs[GhostMessageOverride](v)
	case FieldAudio:
		return decodeAs[AudioOverride](v)
	}
	// Unknown fields come from newer writers; ignore them.
	return nil, nil
}

func decodeAs[T Override](v any) (Override, error) {
	var out T
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("payload is %T, want object", v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Document) set(o Override) {
	switch v := o.(type) {
	case ThemeOverride:
		d.Theme = &v
	case AppSettingsOverride:
		d.AppSettings = &v
	case VisualMatrixOverride:
		d.VisualMatrix = &v
	case ForcedConfigOverride:
		d.Config = &v
	case BroadcastOverride:
		d.Broadcast = &v
	case TakeoverOverride:
		d.Takeover = &v
	case GhostMessageOverride:
		d.Ghost = &v
	case AudioOverride:
		d.Audio = &v
	}
}

// encode renders the stored value of o.
func encode(o Override) (any, error) {
	if t, ok := o.(ThemeOverride); ok {
		return string(t.Theme), nil
	}
	return sanitize.Value(o)
}
