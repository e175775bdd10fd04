package ingress

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/tidwall/gjson"

	apexerrors "github.com/cregis/apex/internal/errors"
)

// readBody buffers the request body up to limit bytes. A body stays
// under this bound for every supported endpoint (spec §4.5) since none
// of them accept file uploads; oversized bodies are rejected before any
// routing or adapter work happens.
func readBody(r *http.Request, limit int64) ([]byte, *apexerrors.APIError) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	limited := io.LimitReader(r.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, apexerrors.ErrBadRequest.WithDetails("failed to read request body: " + err.Error())
	}
	if int64(len(body)) > limit {
		return nil, apexerrors.ErrPayloadTooLarge
	}
	return body, nil
}

// modelFromBody reads the top-level "model" field from a JSON request
// body. An empty result means the model-name-glob router has nothing to
// match against but a catch-all ("*") rule can still route it.
func modelFromBody(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "model").String()
}

type modelListEntry struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

type modelListResponse struct {
	Object string            `json:"object"`
	Data   []modelListEntry  `json:"data"`
}

// writeModelList renders the OpenAI-shaped GET /v1/models response body
// (spec §7): the union of every literal (non-glob) rule match pattern
// across all routers and every channel's model_map key, deduplicated and
// sorted (spec §6, SUPPLEMENTED FEATURES).
func writeModelList(w http.ResponseWriter, names []string) {
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		unique = append(unique, n)
	}
	sort.Strings(unique)

	resp := modelListResponse{Object: "list"}
	for _, n := range unique {
		resp.Data = append(resp.Data, modelListEntry{ID: n, Object: "model"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
