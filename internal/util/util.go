package util

import (
	"bytes"
	"encoding/json"
	"net/http"
)

func JsonWrite(w http.ResponseWriter, v interface{}) {
	JsonWriteStatus(w, http.StatusOK, v)
}

func JsonWriteStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		panic(err)
	}
}

// IsBlankJSON reports whether raw is absent or one of the falsy literals
// (null, false, 0, "").
func IsBlankJSON(raw json.RawMessage) bool {
	d := bytes.TrimSpace(raw)
	if len(d) == 0 {
		return true
	}
	switch string(d) {
	case "null", "false", "0", `""`:
		return true
	}
	return false
}
