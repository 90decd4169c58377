package models

// These structs define the JSON payloads exchanged with the version functions
// and the workflow that runs background generation.

// CreateVersionRequest is the input for the version-api function. UserID is
// taken from the authenticated request, never from the body.
type CreateVersionRequest struct {
	UserID               string `json:"-"`
	DocumentID           string `json:"documentId"`
	ProcessingLevel      int    `json:"processingLevel"`
	ExistingVersionCount int    `json:"existingVersionCount"`
	TargetLanguage       string `json:"targetLanguage,omitempty"`
	LectureDuration      string `json:"lectureDuration,omitempty"`
	VersionName          string `json:"versionName,omitempty"`
}

// CreateVersionResponse is returned as soon as the pending record exists.
type CreateVersionResponse struct {
	VersionID        string `json:"versionId"`
	Status           string `json:"status"`
	NewCreditBalance *int   `json:"newCreditBalance,omitempty"`
}

// InsufficientCreditsResponse is the 402 body.
type InsufficientCreditsResponse struct {
	Error            string `json:"error"`
	CreditsNeeded    int    `json:"creditsNeeded"`
	CreditsAvailable int    `json:"creditsAvailable"`
}

// RunVersionRequest is the input for the version-worker function.
type RunVersionRequest struct {
	VersionID   string `json:"versionId"`
	ExecutionID string `json:"executionId,omitempty"`
}

// RunVersionResponse is the output of the version-worker function.
type RunVersionResponse struct {
	Status    string `json:"status"`
	VersionID string `json:"versionId"`
}
