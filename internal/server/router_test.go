package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Coollin0/Indie-Hain/internal/chunkstore"
	"github.com/Coollin0/Indie-Hain/internal/config"
	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/manifest"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/server/handlers"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/services"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	config.Current = config.Config{
		DatabaseURL:     ":memory:",
		StorageRoot:     t.TempDir(),
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		BodyLimit:       64 * 1024 * 1024,
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	database.DB = db

	store, err := chunkstore.New(config.Current.StorageRoot, db, nil)
	require.NoError(t, err)
	handlers.Init(store, config.Current.StorageRoot, nil)

	app := fiber.New(fiber.Config{
		BodyLimit:    config.Current.BodyLimit,
		ErrorHandler: httperr.Handler,
	})
	RegisterRoutes(app)
	return app
}

func request(t *testing.T, app *fiber.App, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &body)
	return body.Error.Code
}

func registerUser(t *testing.T, app *fiber.App, email, username string) (token, refresh string) {
	t.Helper()
	resp := request(t, app, "POST", "/api/auth/register", "", map[string]string{
		"email": email, "password": "secret123", "username": username, "device_id": "test-device",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, resp, &body)
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken, body.RefreshToken
}

func registerPublisher(t *testing.T, app *fiber.App, email, username string) string {
	t.Helper()
	token, _ := registerUser(t, app, email, username)
	resp := request(t, app, "POST", "/api/auth/upgrade/dev", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	return token
}

func adminToken(t *testing.T) string {
	t.Helper()
	admin := models.User{Email: "root@example.com", Username: "root", Role: models.RoleAdmin, IsActive: true}
	require.NoError(t, admin.SetPassword("rootpass"))
	require.NoError(t, database.DB.Create(&admin).Error)
	pair, err := services.IssueTokens(database.DB, &admin, "admin-device")
	require.NoError(t, err)
	return pair.AccessToken
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// twoChunkManifest builds a one-file manifest whose bytes are supplied by
// the caller, split into two chunks.
func twoChunkManifest(slug, version, platform, channel, path string, data []byte) (*manifest.Manifest, map[string][]byte) {
	cut := len(data) / 2
	parts := [][]byte{data[:cut], data[cut:]}
	chunks := make(map[string][]byte, 2)
	var refs []manifest.ChunkRef
	var offset int64
	for _, part := range parts {
		h := hashOf(part)
		chunks[h] = part
		refs = append(refs, manifest.ChunkRef{Offset: offset, Size: int64(len(part)), SHA256: h})
		offset += int64(len(part))
	}
	m := &manifest.Manifest{
		App:       slug,
		Version:   version,
		Platform:  platform,
		Channel:   channel,
		TotalSize: int64(len(data)),
		ChunkBase: "/storage/chunks",
		Files: []manifest.FileEntry{{
			Path:   path,
			Size:   int64(len(data)),
			SHA256: hashOf(data),
			Chunks: refs,
		}},
	}
	return m, chunks
}

func TestPublishReviewDownloadFlow(t *testing.T) {
	app := newTestApp(t)
	dev := registerPublisher(t, app, "dev@example.com", "dev")

	// Create the app.
	resp := request(t, app, "POST", "/api/dev/apps", dev, map[string]string{
		"slug": "space-game", "title": "Space Game",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		ID uint `json:"id"`
	}
	decode(t, resp, &created)

	// Create a build.
	resp = request(t, app, "POST", "/api/dev/builds", dev, map[string]interface{}{
		"app_id": created.ID, "version": "1.0.0", "platform": "windows", "channel": "stable",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var build struct {
		ID uint `json:"id"`
	}
	decode(t, resp, &build)

	fileData := []byte("the complete game, both halves of it")
	m, chunks := twoChunkManifest("space-game", "1.0.0", "windows", "stable", "bin/game.exe", fileData)

	// Everything is missing on first diff.
	var hashes []string
	for h := range chunks {
		hashes = append(hashes, h)
	}
	resp = request(t, app, "POST", fmt.Sprintf("/api/dev/builds/%d/missing-chunks", build.ID), dev,
		map[string][]string{"hashes": hashes})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var diff struct {
		Missing []string `json:"missing"`
	}
	decode(t, resp, &diff)
	assert.ElementsMatch(t, hashes, diff.Missing)

	// Upload the chunks.
	for h, data := range chunks {
		resp = request(t, app, "POST", "/api/dev/chunk/"+h, dev, data)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	// Second diff is empty: the store is deduplicated.
	resp = request(t, app, "POST", fmt.Sprintf("/api/dev/builds/%d/missing-chunks", build.ID), dev,
		map[string][]string{"hashes": hashes})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &diff)
	assert.Empty(t, diff.Missing)

	// Finalize: build goes ready, submission opens.
	resp = request(t, app, "POST", fmt.Sprintf("/api/dev/builds/%d/finalize", build.ID), dev, m)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fin struct {
		ManifestURL string `json:"manifest_url"`
	}
	decode(t, resp, &fin)
	assert.Equal(t, "apps/space-game/builds/1.0.0/windows/stable/manifest.json", fin.ManifestURL)

	// Finalizing the same build again is rejected.
	resp = request(t, app, "POST", fmt.Sprintf("/api/dev/builds/%d/finalize", build.ID), dev, m)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", errorCode(t, resp))

	// Not public before approval.
	resp = request(t, app, "GET", "/api/public/apps", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var catalog []map[string]interface{}
	decode(t, resp, &catalog)
	assert.Empty(t, catalog)

	// Admin reviews: list, verify, approve.
	admin := adminToken(t)
	resp = request(t, app, "GET", "/api/admin/submissions?status=pending", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var subs struct {
		Items []struct {
			ID     uint   `json:"id"`
			Status string `json:"status"`
			App    string `json:"app"`
		} `json:"items"`
	}
	decode(t, resp, &subs)
	require.Len(t, subs.Items, 1)
	assert.Equal(t, "space-game", subs.Items[0].App)
	subID := subs.Items[0].ID

	resp = request(t, app, "POST", fmt.Sprintf("/api/admin/submissions/%d/verify", subID), admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verify struct {
		OK bool `json:"ok"`
	}
	decode(t, resp, &verify)
	assert.True(t, verify.OK)

	resp = request(t, app, "POST", fmt.Sprintf("/api/admin/submissions/%d/approve", subID), admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Approving twice is rejected.
	resp = request(t, app, "POST", fmt.Sprintf("/api/admin/submissions/%d/approve", subID), admin, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_PROCESSED", errorCode(t, resp))

	// The app is now in the catalog.
	resp = request(t, app, "GET", "/api/public/apps", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &catalog)
	require.Len(t, catalog, 1)
	assert.Equal(t, "space-game", catalog[0]["slug"])

	// A buyer without a purchase is blocked.
	buyer, _ := registerUser(t, app, "buyer@example.com", "buyer")
	resp = request(t, app, "GET", "/api/manifest/space-game/windows/stable", buyer, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "PURCHASE_REQUIRED", errorCode(t, resp))

	// Purchase, then download the manifest.
	resp = request(t, app, "POST", "/api/user/purchases/report", buyer, map[string]interface{}{
		"app_id": created.ID, "price": 19.99,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Reporting the same purchase again conflicts.
	resp = request(t, app, "POST", "/api/user/purchases/report", buyer, map[string]interface{}{
		"app_id": created.ID, "price": 19.99,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, "GET", "/api/manifest/space-game/windows/stable", buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got manifest.Manifest
	decode(t, resp, &got)
	assert.Equal(t, m.TotalSize, got.TotalSize)
	require.Len(t, got.Files, 1)

	// Chunks come back byte for byte.
	var rebuilt []byte
	for _, ref := range got.Files[0].Chunks {
		resp = request(t, app, "GET", "/storage/chunks/"+ref.SHA256+"?slug=space-game&platform=windows&channel=stable", buyer, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, ref.SHA256, hashOf(data))
		rebuilt = append(rebuilt, data...)
	}
	assert.Equal(t, fileData, rebuilt)

	// Whole-file download reassembles server side.
	resp = request(t, app, "GET", "/storage/apps/space-game/windows/stable/bin/game.exe", buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, fileData, data)

	// A hash outside the manifest is not served even though it is well formed.
	outside := hashOf([]byte("not part of this build"))
	resp = request(t, app, "GET", "/storage/chunks/"+outside+"?slug=space-game&platform=windows&channel=stable", buyer, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadChunkRejectsHashMismatch(t *testing.T) {
	app := newTestApp(t)
	dev := registerPublisher(t, app, "dev@example.com", "dev")

	claimed := hashOf([]byte("what the client claims"))
	resp := request(t, app, "POST", "/api/dev/chunk/"+claimed, dev, []byte("what it actually sends"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "HASH_MISMATCH", errorCode(t, resp))

	resp = request(t, app, "POST", "/api/dev/chunk/not-a-hash", dev, []byte("x"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestPublisherSurfaceRequiresRole(t *testing.T) {
	app := newTestApp(t)

	resp := request(t, app, "POST", "/api/dev/apps", "", map[string]string{"slug": "x", "title": "X"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, resp))

	plain, _ := registerUser(t, app, "user@example.com", "user")
	resp = request(t, app, "POST", "/api/dev/apps", plain, map[string]string{"slug": "x", "title": "X"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, resp))

	resp = request(t, app, "GET", "/api/admin/submissions", plain, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestBuildOwnershipEnforced(t *testing.T) {
	app := newTestApp(t)
	owner := registerPublisher(t, app, "owner@example.com", "owner")
	rival := registerPublisher(t, app, "rival@example.com", "rival")

	resp := request(t, app, "POST", "/api/dev/apps", owner, map[string]string{
		"slug": "owned-app", "title": "Owned",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		ID uint `json:"id"`
	}
	decode(t, resp, &created)

	resp = request(t, app, "POST", "/api/dev/builds", rival, map[string]interface{}{
		"app_id": created.ID, "version": "1.0.0", "platform": "linux", "channel": "stable",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, resp))

	resp = request(t, app, "POST", "/api/dev/apps/owned-app/meta", rival, map[string]interface{}{
		"price": 9.99,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestDuplicateBuildCoordinates(t *testing.T) {
	app := newTestApp(t)
	dev := registerPublisher(t, app, "dev@example.com", "dev")

	resp := request(t, app, "POST", "/api/dev/apps", dev, map[string]string{
		"slug": "dup-app", "title": "Dup",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		ID uint `json:"id"`
	}
	decode(t, resp, &created)

	coords := map[string]interface{}{
		"app_id": created.ID, "version": "2.0.0", "platform": "mac", "channel": "beta",
	}
	resp = request(t, app, "POST", "/api/dev/builds", dev, coords)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, "POST", "/api/dev/builds", dev, coords)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", errorCode(t, resp))

	resp = request(t, app, "POST", "/api/dev/builds", dev, map[string]interface{}{
		"app_id": created.ID, "version": "2.0.0", "platform": "amiga", "channel": "stable",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Dot-only versions pass the character class but would fold the
	// manifest path out of the builds/ subtree.
	for _, version := range []string{".", ".."} {
		resp = request(t, app, "POST", "/api/dev/builds", dev, map[string]interface{}{
			"app_id": created.ID, "version": version, "platform": "mac", "channel": "stable",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "version %q", version)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
	}
}

func TestRefreshEndpointRotation(t *testing.T) {
	app := newTestApp(t)
	_, refresh := registerUser(t, app, "dev@example.com", "dev")

	resp := request(t, app, "POST", "/api/auth/refresh", "", map[string]string{
		"refresh_token": refresh, "device_id": "test-device",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rotated struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, resp, &rotated)
	require.NotEmpty(t, rotated.RefreshToken)
	assert.NotEqual(t, refresh, rotated.RefreshToken)

	// Replaying the old token yields a generic 401 and burns the session.
	resp = request(t, app, "POST", "/api/auth/refresh", "", map[string]string{
		"refresh_token": refresh, "device_id": "test-device",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, resp))

	resp = request(t, app, "POST", "/api/auth/refresh", "", map[string]string{
		"refresh_token": rotated.RefreshToken, "device_id": "test-device",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogoutRevokesSession(t *testing.T) {
	app := newTestApp(t)
	token, refresh := registerUser(t, app, "dev@example.com", "dev")

	resp := request(t, app, "GET", "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, "POST", "/api/auth/logout", token, map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, "GET", "/api/auth/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, "POST", "/api/auth/refresh", "", map[string]string{
		"refresh_token": refresh, "device_id": "test-device",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestForcedResetFlow(t *testing.T) {
	app := newTestApp(t)
	token, _ := registerUser(t, app, "dev@example.com", "dev")
	admin := adminToken(t)

	var user models.User
	require.NoError(t, database.DB.Where("email = ?", "dev@example.com").First(&user).Error)

	// Admin issues the one-shot credential; the user's sessions die with it.
	resp := request(t, app, "POST", fmt.Sprintf("/api/admin/users/%d/reset-password", user.ID), admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var issued struct {
		TempPassword string `json:"temp_password"`
	}
	decode(t, resp, &issued)
	require.NotEmpty(t, issued.TempPassword)

	resp = request(t, app, "GET", "/api/auth/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Logging in with the temp credential demands a reset instead of a session.
	resp = request(t, app, "POST", "/api/auth/login", "", map[string]string{
		"email": "dev@example.com", "password": issued.TempPassword, "device_id": "test-device",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "PASSWORD_RESET_REQUIRED", errorCode(t, resp))

	// The reset endpoint trades the temp credential for a new password and
	// a fresh session.
	resp = request(t, app, "POST", "/api/auth/password/reset", "", map[string]string{
		"email": "dev@example.com", "temp_password": issued.TempPassword,
		"password": "brand-new", "device_id": "test-device",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reset struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, resp, &reset)
	require.NotEmpty(t, reset.AccessToken)

	resp = request(t, app, "GET", "/api/auth/me", reset.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The temp credential is burned; the new password logs in normally.
	resp = request(t, app, "POST", "/api/auth/password/reset", "", map[string]string{
		"email": "dev@example.com", "temp_password": issued.TempPassword,
		"password": "whatever", "device_id": "test-device",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, "POST", "/api/auth/login", "", map[string]string{
		"email": "dev@example.com", "password": "brand-new", "device_id": "test-device",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminSetsUserRole(t *testing.T) {
	app := newTestApp(t)
	token, _ := registerUser(t, app, "dev@example.com", "dev")
	admin := adminToken(t)

	var user models.User
	require.NoError(t, database.DB.Where("email = ?", "dev@example.com").First(&user).Error)

	resp := request(t, app, "POST", fmt.Sprintf("/api/admin/users/%d/role", user.ID), admin, map[string]string{
		"role": models.RolePublisher,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Role changes revoke the user's sessions.
	resp = request(t, app, "GET", "/api/auth/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, "POST", fmt.Sprintf("/api/admin/users/%d/role", user.ID), admin, map[string]string{
		"role": "overlord",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
