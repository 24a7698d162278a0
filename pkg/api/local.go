package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/healoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// localArtifactServer serves step artifacts (screenshots, console logs,
// HTML snapshots) directly from a local directory. Incoming request
// paths are resolved relative to the configured root.
type localArtifactServer struct {
	log  logrus.FieldLogger
	root string
}

// newLocalArtifactServer creates a new local artifact server from the
// given config.
func newLocalArtifactServer(
	log logrus.FieldLogger,
	cfg *config.LocalArtifactsConfig,
) *localArtifactServer {
	return &localArtifactServer{
		log:  log.WithField("component", "local-artifact-server"),
		root: filepath.Clean(cfg.Dir),
	}
}

// ServeFile resolves filePath under the artifact root and serves it via
// http.ServeFile. Returns an error when the path is disallowed or missing.
func (l *localArtifactServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !l.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	full := filepath.Join(l.root, filePath)

	// Defense-in-depth: ensure the resolved path stays under root.
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) &&
		full != l.root {
		return fmt.Errorf("path %q resolves outside artifact root", filePath)
	}

	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("artifact %q not found", filePath)
	}

	http.ServeFile(w, r, full)

	return nil
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request paths.
func (l *localArtifactServer) isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) {
		return false
	}

	// Ensure the path is clean (no double slashes, trailing slashes, etc.).
	return path.Clean(filePath) == filePath
}
