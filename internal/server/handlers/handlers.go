// Package handlers contains the HTTP surface: publisher upload endpoints,
// authorized download endpoints, auth, and the admin review gate.
package handlers

import (
	"regexp"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Coollin0/Indie-Hain/internal/chunkstore"
)

// Wired from main, like database.DB.
var (
	Chunks      *chunkstore.Store
	StorageRoot string
	Logger      = zap.NewNop()
)

func Init(store *chunkstore.Store, storageRoot string, logger *zap.Logger) {
	Chunks = store
	StorageRoot = storageRoot
	if logger != nil {
		Logger = logger
	}
}

var (
	slugRe  = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)
	fieldRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
)

var validPlatforms = map[string]bool{"windows": true, "linux": true, "mac": true}
var validChannels = map[string]bool{"stable": true, "beta": true}

func userJSON(id uint, email, username, role string) fiber.Map {
	return fiber.Map{"id": id, "email": email, "username": username, "role": role}
}
