package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/services"
)

var (
	generatorInstance *services.VersionGeneratorFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleRunVersion" is called by the version workflow.
	functions.HTTP("HandleRunVersion", handleRunVersion)
}

// main is required by the Go Functions Framework.
func main() {}

// handleRunVersion runs the background task of one version to completion.
// By the time an error is returned the version has been rolled back.
func handleRunVersion(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		generatorInstance, initErr = services.NewVersionGeneratorFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: VersionGenerator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RunVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := generatorInstance.Run(r.Context(), req)
	if err != nil {
		// The specific error is already logged inside Run.
		http.Error(w, "version generation failed", apperr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error(
			"Failed to write response",
			"error", err,
			"versionId", req.VersionID,
			"executionId", req.ExecutionID,
		)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
