package handler

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/cache"
	"github.com/shiftcal/ota-server/internal/config"
	"github.com/shiftcal/ota-server/internal/events"
	"github.com/shiftcal/ota-server/internal/logic"
	"github.com/shiftcal/ota-server/internal/middleware"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/patcher"
	"github.com/shiftcal/ota-server/internal/protocol"
	"github.com/shiftcal/ota-server/internal/repo"
	"github.com/shiftcal/ota-server/internal/signer"
	"github.com/shiftcal/ota-server/internal/storage"
)

const testAdminToken = "test-admin-token"

type testServer struct {
	app   *fiber.App
	store *repo.SQLStore
	disk  *storage.Storage
	key   *rsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	if config.CFG == nil {
		config.CFG = &config.Config{}
	}

	db, err := repo.Open(config.DatabaseConfig{
		Driver: repo.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "updates.db"),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db, repo.DriverSQLite))
	store := repo.NewSQLStore(db)
	t.Cleanup(func() {
		_ = store.Close()
	})

	disk, err := storage.New(t.TempDir())
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	codeSigner, err := signer.New(config.SigningConfig{
		PrivateKeyPEM: string(keyPEM),
	})
	require.NoError(t, err)

	diffScript := filepath.Join(t.TempDir(), "fakediff.sh")
	require.NoError(t, os.WriteFile(diffScript,
		[]byte("#!/bin/sh\nprintf p > \"$3\"\n"), 0o755))
	differ := patcher.NewRunner(config.PatcherConfig{
		Binary:  diffScript,
		Timeout: 2 * time.Second,
	})

	logger := zap.NewNop()
	group := cache.NewResolverCacheGroup()
	recorder := events.NewRecorder(store, logger)

	app := fiber.New()
	root := app.Group("/")
	NewManifestHandler(logger, logic.NewManifestLogic(logger, store, group), codeSigner, recorder).Register(root)
	NewAssetHandler(logger, logic.NewDeliveryLogic(logger, store, disk, differ, group), disk, recorder).Register(root)
	adminGroup := app.Group("/api/admin", middleware.NewAdminAuth(testAdminToken))
	NewAdminHandler(logger,
		logic.NewPublishLogic(logger, store, disk, group),
		logic.NewGCLogic(logger, store, disk, group),
	).Register(adminGroup)
	NewHealthCheckHandler().Register(root)

	return &testServer{app: app, store: store, disk: disk, key: key}
}

func (s *testServer) publishArchive(t *testing.T, bundle []byte, runtimeVersion string) []*model.Update {
	t.Helper()

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	mf, err := zw.Create("metadata.json")
	require.NoError(t, err)
	_, err = mf.Write([]byte(`{"fileMetadata": {"ios": {"bundle": "b.js", "assets": []}}}`))
	require.NoError(t, err)
	bf, err := zw.Create("b.js")
	require.NoError(t, err)
	_, err = bf.Write(bundle)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "archive.zip")
	require.NoError(t, err)
	_, err = fw.Write(zipBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("runtimeVersion", runtimeVersion))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/publish", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testAdminToken)

	resp, err := s.app.Test(req, 10000)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Code int `json:"code"`
		Data struct {
			Count   int             `json:"count"`
			Updates []*model.Update `json:"updates"`
		} `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(raw, &envelope))
	require.Equal(t, 1, envelope.Data.Count)
	return envelope.Data.Updates
}

func manifestRequest(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/manifest", nil)
	req.Header.Set(protocol.HeaderPlatform, model.PlatformIOS)
	req.Header.Set(protocol.HeaderRuntimeVersion, "1.0.0")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return req
}

func TestManifestEndpoint(t *testing.T) {
	s := newTestServer(t)

	t.Run("no update published", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, protocol.ProtocolVersion, resp.Header.Get(protocol.HeaderProtocolVersion))
		require.Equal(t, protocol.ManifestCacheControl, resp.Header.Get("Cache-Control"))
	})

	t.Run("missing platform header", func(t *testing.T) {
		req := manifestRequest(nil)
		req.Header.Del(protocol.HeaderPlatform)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing runtime version header", func(t *testing.T) {
		req := manifestRequest(nil)
		req.Header.Del(protocol.HeaderRuntimeVersion)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsupported platform", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			protocol.HeaderPlatform: "windows",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})

	t.Run("unsupported protocol version", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			protocol.HeaderProtocolVersion: "2",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})

	t.Run("unacceptable accept header", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			"Accept": "text/plain",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})

	t.Run("missing headers win over bad accept", func(t *testing.T) {
		req := manifestRequest(map[string]string{"Accept": "text/plain"})
		req.Header.Del(protocol.HeaderPlatform)
		req.Header.Del(protocol.HeaderRuntimeVersion)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed expect signature header", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			protocol.HeaderExpectSignature: `0bad-key="x"`,
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	published := s.publishArchive(t, []byte("bundle v1 contents"), "1.0.0")
	update := published[0]

	t.Run("serves manifest", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			"Accept": "application/json;q=0.5, application/expo+json;q=0.9",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, protocol.ContentTypeExpoJSON, resp.Header.Get("Content-Type"))

		var manifest model.Manifest
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(raw, &manifest))
		require.Equal(t, update.ID, manifest.ID)
		require.Regexp(t, regexp.MustCompile(`^http://.+/api/assets\?file=`), manifest.LaunchAsset.URL)
	})

	t.Run("client already current", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			protocol.HeaderCurrentUpdateID: update.ID,
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("signed manifest verifies", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			protocol.HeaderExpectSignature: `sig, keyid="main"`,
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		header := resp.Header.Get(protocol.HeaderSignature)
		require.NotEmpty(t, header)
		match := regexp.MustCompile(`sig=:([^:]+):`).FindStringSubmatch(header)
		require.Len(t, match, 2)
		sig, err := base64.StdEncoding.DecodeString(match[1])
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		digest := sha256.Sum256(body)
		require.NoError(t, rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, digest[:], sig))
	})

	t.Run("signature key id mismatch", func(t *testing.T) {
		resp, err := s.app.Test(manifestRequest(map[string]string{
			protocol.HeaderExpectSignature: `sig, keyid="other"`,
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})
}

func TestManifestSigningUnconfigured(t *testing.T) {
	s := newTestServer(t)

	// Replace the signer with one lacking a private key.
	unsigned, err := signer.New(config.SigningConfig{})
	require.NoError(t, err)

	app := fiber.New()
	logger := zap.NewNop()
	group := cache.NewResolverCacheGroup()
	NewManifestHandler(logger,
		logic.NewManifestLogic(logger, s.store, group),
		unsigned,
		events.NewRecorder(s.store, logger),
	).Register(app.Group("/"))

	s.publishArchive(t, []byte("bundle"), "1.0.0")

	resp, err := app.Test(manifestRequest(map[string]string{
		protocol.HeaderExpectSignature: "sig",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAssetEndpoint(t *testing.T) {
	s := newTestServer(t)

	base := s.publishArchive(t, []byte("bundle v1 contents"), "1.0.0")[0]
	target := s.publishArchive(t, []byte("bundle v2 contents"), "1.0.0")[0]
	targetFile := storage.ExtractFileName(target.Manifest.LaunchAsset.URL)

	t.Run("missing file param", func(t *testing.T) {
		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/assets", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown file", func(t *testing.T) {
		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/assets?file=nope.js", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("full asset without negotiation", func(t *testing.T) {
		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/assets?file="+targetFile, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "not_requested", resp.Header.Get(protocol.HeaderFallbackReason))
		require.Equal(t, protocol.AssetCacheControl, resp.Header.Get("Cache-Control"))
		require.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, []byte("bundle v2 contents"), body)
	})

	t.Run("patch served", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/assets?file="+targetFile, nil)
		req.Header.Set(protocol.HeaderAcceptIM, protocol.IMBsdiff)
		req.Header.Set(protocol.HeaderCurrentUpdateID, base.ID)
		req.Header.Set(protocol.HeaderRequestedUpdateID, target.ID)

		resp, err := s.app.Test(req, 10000)
		require.NoError(t, err)
		require.Equal(t, http.StatusIMUsed, resp.StatusCode)
		require.Equal(t, protocol.IMBsdiff, resp.Header.Get(protocol.HeaderIM))
		require.Equal(t, base.ID, resp.Header.Get(protocol.HeaderBaseUpdateID))
		require.Equal(t, protocol.ContentTypeBsdiff, resp.Header.Get("Content-Type"))
		require.Equal(t, protocol.PatchCacheControl, resp.Header.Get("Cache-Control"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, []byte("p"), body)
	})

	t.Run("incompatible pair falls back", func(t *testing.T) {
		other := s.publishArchive(t, []byte("bundle other runtime"), "2.0.0")[0]

		req := httptest.NewRequest(http.MethodGet, "/api/assets?file="+targetFile, nil)
		req.Header.Set(protocol.HeaderAcceptIM, protocol.IMBsdiff)
		req.Header.Set(protocol.HeaderCurrentUpdateID, other.ID)
		req.Header.Set(protocol.HeaderRequestedUpdateID, target.ID)

		resp, err := s.app.Test(req, 10000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "incompatible_updates", resp.Header.Get(protocol.HeaderFallbackReason))
	})
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("rejects missing token", func(t *testing.T) {
		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/admin/updates", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/updates", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	update := s.publishArchive(t, []byte("bundle contents"), "1.0.0")[0]

	t.Run("lists updates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/updates", nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var envelope struct {
			Data struct {
				Count int `json:"count"`
			} `json:"data"`
		}
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(raw, &envelope))
		require.Equal(t, 1, envelope.Data.Count)
	})

	t.Run("gets update by id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/updates/"+update.ID, nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var envelope struct {
			Data model.Update `json:"data"`
		}
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(raw, &envelope))
		require.Equal(t, update.ID, envelope.Data.ID)
	})

	t.Run("unknown update id is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/updates/missing-id", nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("publish validates params", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("channel", "bad/channel"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/admin/publish", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("deletes update", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/admin/updates/"+update.ID, nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var envelope struct {
			Data model.DeleteResult `json:"data"`
		}
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(raw, &envelope))
		require.True(t, envelope.Data.Deleted)
		require.Equal(t, 1, envelope.Data.AssetsDeleted)

		fileName := storage.ExtractFileName(update.Manifest.LaunchAsset.URL)
		exists, err := s.disk.AssetExists(fileName)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/admin/updates/"+update.ID, nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestUnconfiguredAdminTokenDisablesAdmin(t *testing.T) {
	app := fiber.New()
	app.Group("/api/admin", middleware.NewAdminAuth("")).
		Get("/updates", func(c *fiber.Ctx) error { return c.SendString("never") })

	req := httptest.NewRequest(http.MethodGet, "/api/admin/updates", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
