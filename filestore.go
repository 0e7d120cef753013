package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"maillite.dev/maillite/store"
)

const (
	usersFile    = "users.json"
	messagesFile = "messages.json"
)

// fileStore is the persistence collaborator: full-snapshot JSON files,
// rewritten on every mutation and loaded once at startup. Writes go through
// a temp file and rename so a crash never leaves a torn snapshot.
type fileStore struct {
	dir string
	log *zap.Logger
}

func newFileStore(dir string, log *zap.Logger) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log.Named("filestore")}, nil
}

func (fs *fileStore) SaveUsers(users map[string]*store.User) error {
	return fs.write(usersFile, users)
}

func (fs *fileStore) LoadUsers() map[string]*store.User {
	users := make(map[string]*store.User)
	fs.read(usersFile, &users)
	return users
}

func (fs *fileStore) SaveMessages(boxes map[string][]*store.Message) error {
	return fs.write(messagesFile, boxes)
}

func (fs *fileStore) LoadMessages() map[string][]*store.Message {
	boxes := make(map[string][]*store.Message)
	fs.read(messagesFile, &boxes)
	return boxes
}

func (fs *fileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(fs.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// read loads a snapshot if one exists. A missing file means a fresh server;
// an unreadable one is logged and treated the same way.
func (fs *fileStore) read(name string, v any) {
	path := filepath.Join(fs.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fs.log.Error("read snapshot", zap.String("file", name), zap.Error(err))
		}
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		fs.log.Error("decode snapshot", zap.String("file", name), zap.Error(err))
	}
}
