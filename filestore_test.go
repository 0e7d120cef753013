package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
	"maillite.dev/maillite/store"
)

func TestFileStoreUsersRoundTrip(t *testing.T) {
	fs, err := newFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	users := map[string]*store.User{
		"alice": {Username: "alice", Password: "pw", Status: consts.StatusAway, LastLogin: 123},
	}
	require.NoError(t, fs.SaveUsers(users))

	loaded := fs.LoadUsers()
	require.Len(t, loaded, 1)
	assert.Equal(t, "alice", loaded["alice"].Username)
	assert.Equal(t, consts.StatusAway, loaded["alice"].Status)
	assert.Equal(t, int64(123), loaded["alice"].LastLogin)
}

func TestFileStoreMessagesRoundTrip(t *testing.T) {
	fs, err := newFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	boxes := map[string][]*store.Message{
		"bob": {
			{
				ID:        "msg_1_1",
				From:      "alice",
				To:        []string{"bob"},
				Subject:   "hello",
				Body:      "body text",
				Timestamp: 1700000000000,
				Archived:  true,
			},
		},
	}
	require.NoError(t, fs.SaveMessages(boxes))

	loaded := fs.LoadMessages()
	require.Len(t, loaded["bob"], 1)
	msg := loaded["bob"][0]
	assert.Equal(t, "msg_1_1", msg.ID)
	assert.Equal(t, []string{"bob"}, msg.To)
	assert.True(t, msg.Archived)
}

func TestFileStoreFreshDirectory(t *testing.T) {
	fs, err := newFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	assert.Empty(t, fs.LoadUsers())
	assert.Empty(t, fs.LoadMessages())
}

func TestFileStoreCorruptSnapshotIsFreshStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, usersFile), []byte("{not json"), 0600))

	fs, err := newFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, fs.LoadUsers())
}

func TestFileStoreWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	fs, err := newFileStore(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, fs.SaveUsers(map[string]*store.User{"a": {Username: "a"}}))

	// No temp file left behind after a successful write.
	_, err = os.Stat(filepath.Join(dir, usersFile+".tmp"))
	assert.True(t, os.IsNotExist(err))
}
