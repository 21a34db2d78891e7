package chatpdt

import (
	"github.com/Copilotuser-cyber/ChatPDT/internal/admin"
	"github.com/Copilotuser-cyber/ChatPDT/internal/channel"
	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/override"
)

// Public type aliases so callers can import only the chatpdt package.
// Records
type (
	User          = model.User
	Chat          = model.Chat
	Message       = model.Message
	GameProject   = model.GameProject
	CommunityPost = model.CommunityPost
	ChatConfig    = model.ChatConfig
	AppSettings   = model.AppSettings
	Role          = model.Role
)

// Overrides
type (
	Override             = override.Override
	Handlers             = override.Handlers
	Theme                = override.Theme
	ThemeOverride        = override.ThemeOverride
	AppSettingsOverride  = override.AppSettingsOverride
	VisualMatrixOverride = override.VisualMatrixOverride
	ForcedConfigOverride = override.ForcedConfigOverride
	BroadcastOverride    = override.BroadcastOverride
	TakeoverOverride     = override.TakeoverOverride
	GhostMessageOverride = override.GhostMessageOverride
	AudioOverride        = override.AudioOverride
)

// Plumbing
type (
	Mode         = gateway.Mode
	Subscription = channel.Handle
	UserContent  = admin.Content
)

const (
	ModeCloud     = gateway.ModeCloud
	ModeLocalOnly = gateway.ModeLocalOnly

	ThemeDark  = override.ThemeDark
	ThemeLight = override.ThemeLight

	RoleUser  = model.RoleUser
	RoleModel = model.RoleModel
)
