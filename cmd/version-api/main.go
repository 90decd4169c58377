package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
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

	// "HandleCreateVersion" is the entry point name configured in GCP.
	functions.HTTP("HandleCreateVersion", handleCreateVersion)
}

// main is required by the Go Functions Framework.
func main() {}

// handleCreateVersion reserves credits and records a pending version. The
// generation itself runs in the background.
func handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	once.Do(func() {
		generatorInstance, initErr = services.NewVersionGeneratorFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: VersionGenerator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	req.UserID = userID(r)

	res, err := generatorInstance.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// userID reads the caller from the user info API Gateway forwards after
// validating the token, or from X-User-Id behind a trusted proxy.
func userID(r *http.Request) string {
	if info := r.Header.Get("X-Apigateway-Api-Userinfo"); info != "" {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(info, "="))
		if err == nil {
			var claims struct {
				Sub    string `json:"sub"`
				UserID string `json:"user_id"`
			}
			if json.Unmarshal(raw, &claims) == nil {
				if claims.UserID != "" {
					return claims.UserID
				}
				return claims.Sub
			}
		}
		slog.Warn("Could not decode gateway user info header.")
	}
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)

	var insufficient *apperr.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		writeJSON(w, status, models.InsufficientCreditsResponse{
			Error:            apperr.ErrInsufficientCredits.Error(),
			CreditsNeeded:    insufficient.Needed,
			CreditsAvailable: insufficient.Available,
		})
		return
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Version creation failed", "error", err)
		http.Error(w, "Internal Server Error: version creation failed", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
