package handlers

import (
	"net/http"

	"github.com/nomis52/embedflow/buildinfo"
)

// HandleVersion returns the build properties.
func HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Get())
}
