// Package model holds the persisted record shapes shared by every layer.
package model

// Collection names. Each record lives under exactly one of these.
const (
	CollectionUsers          = "users"
	CollectionChats          = "chats"
	CollectionGames          = "games"
	CollectionCommunityPosts = "community_posts"
	CollectionOverrides      = "overrides"
)

// Role of a message author.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem:
		return true
	}
	return false
}

// Message is embedded in Chat and GameProject records.
type Message struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	// InjectedBy is set when the message was delivered by an administrative
	// ghost command instead of the completion engine.
	InjectedBy string `json:"injectedBy,omitempty"`
}

// Chat is replaced as a whole on every write.
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
}

// GameProject stores the code artifact produced by the game generator.
type GameProject struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Username    string    `json:"username,omitempty"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	LatestCode  string    `json:"latestCode"`
	IsPublished bool      `json:"isPublished,omitempty"`
	CreatedAt   string    `json:"createdAt"`
	UpdatedAt   string    `json:"updatedAt"`
}

// PostType distinguishes plain community signals from shared games.
type PostType string

const (
	PostSignal PostType = "signal"
	PostGame   PostType = "game"
)

// CommunityPost is an entry of the global community feed.
type CommunityPost struct {
	ID         string   `json:"id"`
	OwnerID    string   `json:"ownerId"`
	Username   string   `json:"username"`
	Text       string   `json:"text"`
	Type       PostType `json:"type"`
	GameID     string   `json:"gameId,omitempty"`
	GameTitle  string   `json:"gameTitle,omitempty"`
	Timestamp  string   `json:"timestamp"`
	ProfilePic string   `json:"profilePic,omitempty"`
}

// User is an account record. Credentials are not part of this record.
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	IsAdmin        bool   `json:"isAdmin"`
	IsPremium      bool   `json:"isPremium"`
	IsBanned       bool   `json:"isBanned,omitempty"`
	ProfilePic     string `json:"profilePic,omitempty"`
	LastDeviceInfo string `json:"lastDeviceInfo,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// SuperUsername is the maintenance account allowed to grant admin rights.
const SuperUsername = "@Maintenance"

// AppSettings are the visual background settings of a session.
type AppSettings struct {
	BackgroundURL     string  `json:"backgroundUrl"`
	BackgroundBlur    float64 `json:"backgroundBlur"`
	BackgroundOpacity float64 `json:"backgroundOpacity"`
	DiscoMode         bool    `json:"discoMode,omitempty"`
}
