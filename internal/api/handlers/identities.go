package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facereg/internal/auth"
	"github.com/your-org/facereg/internal/config"
	"github.com/your-org/facereg/internal/fusion"
	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/registry"
	"github.com/your-org/facereg/internal/service"
	"github.com/your-org/facereg/pkg/dto"
)

type IdentityHandler struct {
	svc *service.IdentityService
	// photos and embeddings are optional; endpoints that need them answer 503
	// when they are not configured.
	photos     registry.PhotoRegistry
	embeddings fusion.EmbeddingStore
	fusion     config.FusionConfig
}

func NewIdentityHandler(svc *service.IdentityService, photos registry.PhotoRegistry, embeddings fusion.EmbeddingStore, fcfg config.FusionConfig) *IdentityHandler {
	return &IdentityHandler{svc: svc, photos: photos, embeddings: embeddings, fusion: fcfg}
}

func (h *IdentityHandler) Create(c *gin.Context) {
	var req dto.CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var state models.State
	if req.State != "" {
		s, err := models.ParseState(req.State)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state = s
	}

	var id string
	err := h.svc.Mutate(func(r *registry.Registry) error {
		var err error
		id, err = r.Create(registry.CreateParams{
			AnchorIDs:    req.AnchorIDs,
			CandidateIDs: req.CandidateIDs,
			Name:         req.Name,
			State:        state,
			Provenance:   req.Provenance,
			User:         auth.User(c),
		})
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.CreateIdentityResponse{ID: id})
}

func (h *IdentityHandler) List(c *gin.Context) {
	opts := registry.ListOptions{IncludeMerged: c.Query("include_merged") == "true"}
	if s := c.Query("state"); s != "" {
		state, err := models.ParseState(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.State = state
	}

	var idents []*models.Identity
	if err := h.svc.Read(func(r *registry.Registry) error {
		idents = r.List(opts)
		return nil
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityList(idents))
}

func (h *IdentityHandler) ListByJob(c *gin.Context) {
	var idents []*models.Identity
	if err := h.svc.Read(func(r *registry.Registry) error {
		idents = r.ListByJob(c.Param("jobId"))
		return nil
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityList(idents))
}

func (h *IdentityHandler) Search(c *gin.Context) {
	opts := registry.SearchOptions{ExcludeID: c.Query("exclude_id")}
	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		opts.Limit = limit
	}
	for _, s := range c.QueryArray("state") {
		state, err := models.ParseState(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.States = append(opts.States, state)
	}

	var idents []*models.Identity
	if err := h.svc.Read(func(r *registry.Registry) error {
		idents = r.Search(c.Query("q"), opts)
		return nil
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityList(idents))
}

func (h *IdentityHandler) Stats(c *gin.Context) {
	var stats map[models.State]int
	if err := h.svc.Read(func(r *registry.Registry) error {
		stats = r.Stats()
		return nil
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": stats})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	var ident *models.Identity
	if err := h.svc.Read(func(r *registry.Registry) error {
		var err error
		ident, err = r.Get(c.Param("id"))
		return err
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityResponse(ident))
}

func (h *IdentityHandler) History(c *gin.Context) {
	id := c.Param("id")
	var events []models.Event
	if err := h.svc.Read(func(r *registry.Registry) error {
		var err error
		events, err = r.History(id)
		return err
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.HistoryResponse{IdentityID: id, Events: events})
}

// mutateAndGet applies fn to the identity in the path and responds with its
// new state.
func (h *IdentityHandler) mutateAndGet(c *gin.Context, fn func(r *registry.Registry, id, user string) error) {
	id := c.Param("id")
	var ident *models.Identity
	err := h.svc.Mutate(func(r *registry.Registry) error {
		if err := fn(r, id, auth.User(c)); err != nil {
			return err
		}
		var err error
		ident, err = r.Get(id)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityResponse(ident))
}

func (h *IdentityHandler) MoveToProposed(c *gin.Context) {
	h.mutateAndGet(c, (*registry.Registry).MoveToProposed)
}

func (h *IdentityHandler) Confirm(c *gin.Context) {
	h.mutateAndGet(c, (*registry.Registry).Confirm)
}

func (h *IdentityHandler) Reject(c *gin.Context) {
	h.mutateAndGet(c, (*registry.Registry).RejectIdentity)
}

func (h *IdentityHandler) Skip(c *gin.Context) {
	h.mutateAndGet(c, (*registry.Registry).Skip)
}

func (h *IdentityHandler) Reset(c *gin.Context) {
	h.mutateAndGet(c, (*registry.Registry).Reset)
}

func (h *IdentityHandler) Contest(c *gin.Context) {
	var req dto.ContestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.mutateAndGet(c, func(r *registry.Registry, id, user string) error {
		return r.Contest(id, req.Reason, user)
	})
}

func (h *IdentityHandler) Rename(c *gin.Context) {
	var req dto.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	var resp dto.RenameResponse
	err := h.svc.Mutate(func(r *registry.Registry) error {
		prev, err := r.Rename(id, req.Name, auth.User(c))
		if err != nil {
			return err
		}
		ident, err := r.Get(id)
		if err != nil {
			return err
		}
		resp = dto.RenameResponse{ID: id, PreviousName: prev, Name: ident.Name}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Promote moves a candidate to the anchors. With "safe": true it runs the
// variance-explosion check first and answers 409 when the check fails.
func (h *IdentityHandler) Promote(c *gin.Context) {
	var req dto.PromoteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	id, faceID := c.Param("id"), c.Param("faceId")
	opts := registry.PromoteOptions{
		Weight:              req.Weight,
		EraBin:              req.EraBin,
		User:                auth.User(c),
		ReevaluateThreshold: h.fusion.ReevaluateThreshold,
	}

	if !req.Safe {
		h.mutateAndGet(c, func(r *registry.Registry, id, _ string) error {
			return r.Promote(id, faceID, opts)
		})
		return
	}

	if h.embeddings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "embedding store not configured"})
		return
	}
	var res registry.PromoteResult
	err := h.svc.Mutate(func(r *registry.Registry) error {
		var err error
		res, err = r.SafePromoteCandidate(c.Request.Context(), h.embeddings, id, faceID, h.fusion.VarianceK, opts)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !res.Promoted {
		status = http.StatusConflict
	}
	c.JSON(status, res)
}

func (h *IdentityHandler) RejectCandidate(c *gin.Context) {
	faceID := c.Param("faceId")
	h.mutateAndGet(c, func(r *registry.Registry, id, user string) error {
		return r.RejectCandidate(id, faceID, user)
	})
}

func (h *IdentityHandler) Detach(c *gin.Context) {
	id, faceID := c.Param("id"), c.Param("faceId")
	var newID string
	err := h.svc.Mutate(func(r *registry.Registry) error {
		var err error
		newID, err = r.Detach(id, faceID, auth.User(c))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.DetachResponse{ID: id, NewID: newID})
}

func (h *IdentityHandler) Undo(c *gin.Context) {
	id := c.Param("id")
	var ev models.Event
	err := h.svc.Mutate(func(r *registry.Registry) error {
		var err error
		ev, err = r.Undo(id, auth.User(c))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// Merge folds the body's source_id into the identity in the path. The
// survivor may be swapped by the direction heuristics unless
// manual_direction is set. Blocked merges answer 409 with the reason.
func (h *IdentityHandler) Merge(c *gin.Context) {
	var req dto.MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo registry not configured"})
		return
	}

	var res registry.MergeResult
	err := h.svc.Mutate(func(r *registry.Registry) error {
		var err error
		res, err = r.Merge(c.Request.Context(), req.SourceID, c.Param("id"), h.photos, registry.MergeOptions{
			ResolvedName:    req.ResolvedName,
			ManualDirection: req.ManualDirection,
			User:            auth.User(c),
		})
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeMergeResult(c, res)
}

func (h *IdentityHandler) UndoMerge(c *gin.Context) {
	var res registry.MergeResult
	err := h.svc.Mutate(func(r *registry.Registry) error {
		var err error
		res, err = r.UndoMerge(c.Param("id"), auth.User(c))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeMergeResult(c, res)
}

func writeMergeResult(c *gin.Context, res registry.MergeResult) {
	if !res.Success {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IdentityHandler) RejectPair(c *gin.Context) {
	var req dto.RejectPairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.mutateAndGet(c, func(r *registry.Registry, id, user string) error {
		return r.RejectIdentityPair(id, req.OtherID, user)
	})
}

func (h *IdentityHandler) UnrejectPair(c *gin.Context) {
	otherID := c.Param("otherId")
	h.mutateAndGet(c, func(r *registry.Registry, id, user string) error {
		return r.UnrejectIdentityPair(id, otherID, user)
	})
}

// Reevaluation lists rejected faces re-scored against the current fused
// anchor. It is advisory and changes nothing.
func (h *IdentityHandler) Reevaluation(c *gin.Context) {
	if h.embeddings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "embedding store not configured"})
		return
	}
	opts := fusion.ReevaluationOptions{
		EraMismatchPenalty: h.fusion.EraMismatchPenalty,
		Limit:              h.fusion.ReevaluationLimit,
	}
	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		opts.Limit = limit
	}

	id := c.Param("id")
	var out []fusion.ReevaluationCandidate
	err := h.svc.Read(func(r *registry.Registry) error {
		var err error
		out, err = r.ReevaluationCandidates(c.Request.Context(), h.embeddings, id, opts)
		return err
	})
	if errors.Is(err, fusion.ErrNoAnchors) {
		c.JSON(http.StatusOK, gin.H{"identity_id": id, "candidates": []fusion.ReevaluationCandidate{}})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity_id": id, "candidates": out})
}
