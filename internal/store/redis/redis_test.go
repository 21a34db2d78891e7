package redis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
)

func TestHashEncodingRoundTrip(t *testing.T) {
	doc := model.Document{
		"ownerId":  "u1",
		"theme":    "dark",
		"messages": []any{map[string]any{"text": "hi"}},
		"n":        2.5,
	}
	enc, err := encodeHash("chats", "c1", doc)
	require.NoError(t, err)
	assert.Equal(t, `"c1"`, enc["id"])
	assert.Equal(t, `"dark"`, enc["theme"])

	plain := map[string]string{}
	for k, v := range enc {
		plain[k] = v.(string)
	}
	got, err := decodeHash(plain)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID())
	assert.Equal(t, doc["messages"], got["messages"])
	assert.Equal(t, 2.5, got["n"])
	assert.Equal(t, "u1", unquote(enc["ownerId"].(string)))
}

func TestClassify(t *testing.T) {
	assert.True(t, pdterrors.IsAuthorization(classify("put", errors.New("NOPERM this user has no permissions to run the 'hset' command"))))
	assert.True(t, pdterrors.IsAuthorization(classify("ping", errors.New("WRONGPASS invalid username-password pair"))))
	assert.True(t, pdterrors.IsTransient(classify("ping", errors.New("dial tcp: connection refused"))))
}

func TestChangeMatches(t *testing.T) {
	c := change{Collection: "overrides", ID: "u1"}
	assert.True(t, c.matches("overrides", store.Filter{ID: "u1"}))
	assert.False(t, c.matches("overrides", store.Filter{ID: "u2"}))
	assert.False(t, c.matches("overrides", store.Filter{OwnerID: "u1"}))
}
