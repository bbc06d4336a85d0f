package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/model"
)

type discoveryBody struct {
	SessionID          string `json:"sessionId"`
	ProductDescription string `json:"productDescription"`
	Territory          struct {
		States []string `json:"states"`
	} `json:"territory"`
	TargetCategories []string `json:"targetCategories"`
	Competitors      []string `json:"competitors"`
	Limit            int      `json:"limit"`
}

type criteriaBody struct {
	ProductDescription string   `json:"productDescription"`
	States             []string `json:"states"`
	TargetCategories   []string `json:"targetCategories"`
	Competitors        []string `json:"competitors"`
}

type requestBody struct {
	criteriaBody
	TargetAccount string `json:"targetAccount"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var body discoveryBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.SessionID) == "" {
		writeError(w, r, badRequest("sessionId is required"))
		return
	}

	resp, err := s.discoverer.Discover(r.Context(), discovery.Request{
		SessionID:          body.SessionID,
		ProductDescription: body.ProductDescription,
		States:             body.Territory.States,
		TargetCategories:   body.TargetCategories,
		Competitors:        body.Competitors,
		Limit:              body.Limit,
	}, CallerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID string `json:"requestId"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.RequestID) == "" {
		writeError(w, r, badRequest("requestId is required"))
		return
	}

	report, err := s.researcher.Run(r.Context(), body.RequestID, CallerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": report.Content})
}

func (s *Server) handleResearchStatus(w http.ResponseWriter, r *http.Request) {
	req, report, err := s.researcher.Status(r.Context(), chi.URLParam(r, "id"), CallerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := map[string]any{"request": req}
	if report != nil {
		out["report"] = report
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body criteriaBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body.States) == 0 {
		writeError(w, r, badRequest("states is required"))
		return
	}
	sess := &model.DiscoverySession{
		OwnerID: CallerFromContext(r.Context()),
		Criteria: model.Criteria{
			ProductDescription: body.ProductDescription,
			States:             body.States,
			TargetCategories:   body.TargetCategories,
			Competitors:        body.Competitors,
		},
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess})
}

func (s *Server) handleProspects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !sess.OwnedBy(CallerFromContext(ctx)) {
		writeError(w, r, eris.Wrapf(model.ErrForbidden, "api: session %s", id))
		return
	}
	dossiers, err := s.store.GetDossiers(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobs, err := s.store.ListJobs(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  sess,
		"dossiers": dossiers,
		"jobs":     jobs,
	})
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.TargetAccount) == "" {
		writeError(w, r, badRequest("targetAccount is required"))
		return
	}
	req := &model.ResearchRequest{
		OwnerID:            CallerFromContext(r.Context()),
		TargetAccount:      body.TargetAccount,
		ProductDescription: body.ProductDescription,
		States:             body.States,
		TargetCategories:   body.TargetCategories,
		Competitors:        body.Competitors,
	}
	if err := s.store.CreateResearchRequest(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": req})
}
