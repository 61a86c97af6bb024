package diagram

import (
	"collaborative-diagram-editor/internal/access"
	"collaborative-diagram-editor/internal/domain"
	"collaborative-diagram-editor/internal/editor"
	"collaborative-diagram-editor/internal/errors"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Handler struct {
	service Service
	live    access.Source
}

func NewHandler(service Service, live access.Source) *Handler {
	return &Handler{service: service, live: live}
}

// identityFromContext rebuilds the caller identity the auth middleware
// stored on the request
func identityFromContext(c *gin.Context) domain.Identity {
	userID, _ := c.Get("user_id")
	userEmail, _ := c.Get("user_email")
	userRole, _ := c.Get("user_role")

	ident := domain.Identity{}
	if id, ok := userID.(string); ok {
		ident.ID = id
	}
	if email, ok := userEmail.(string); ok {
		ident.Email = email
	}
	if role, ok := userRole.(string); ok {
		ident.DefaultRole = domain.RoleFromString(role)
	}
	return ident
}

type CreateDiagramRequest struct {
	Name string `json:"name" binding:"omitempty,max=255"`
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateDiagramRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	d, err := h.service.CreateDiagram(c.Request.Context(), identityFromContext(c), form.Name)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, d)
}

func (h *Handler) ShowAccessibleDiagrams(c *gin.Context) {
	diagrams, err := h.service.ListAccessible(c.Request.Context(), identityFromContext(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": diagrams})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is handled at the router
}

// LiveAccessibleDiagrams streams the accessible-diagram list over a
// websocket: one JSON snapshot immediately, then one per change
func (h *Handler) LiveAccessibleDiagrams(c *gin.Context) {
	ident := identityFromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[LIVE] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// gorilla allows one concurrent writer only
	var writeMu sync.Mutex

	teardown := access.SubscribeAccessible(h.live, ident, func(list []domain.EffectiveDiagram) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(list); err != nil {
			log.Printf("[LIVE] write failed: %v", err)
		}
	})
	defer teardown()

	// block until the client goes away
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Handler) ShowDiagram(c *gin.Context) {
	d, err := h.service.GetDiagram(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, d)
}

func (h *Handler) ShowEffectiveRole(c *gin.Context) {
	role, err := h.service.EffectiveRole(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"role": role})
}

type SaveDiagramRequest struct {
	Name  string       `json:"name" binding:"required,min=1,max=255"`
	Graph editor.Graph `json:"graph" binding:"required"`
}

// Save persists the client's full node/edge collections and name
func (h *Handler) Save(c *gin.Context) {
	var form SaveDiagramRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	err := h.service.SaveDiagram(c.Request.Context(), identityFromContext(c), c.Param("id"), form.Name, form.Graph)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "diagram saved"})
}

type RenameDiagramRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255"`
}

func (h *Handler) Rename(c *gin.Context) {
	var form RenameDiagramRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	err := h.service.RenameDiagram(c.Request.Context(), identityFromContext(c), c.Param("id"), form.Name)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "diagram renamed"})
}

func (h *Handler) DeleteDiagram(c *gin.Context) {
	err := h.service.DeleteDiagram(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

type AddNodeRequest struct {
	Label string  `json:"label"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

func (h *Handler) AddNode(c *gin.Context) {
	var form AddNodeRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	node, err := h.service.AddNode(c.Request.Context(), identityFromContext(c), c.Param("id"), form.Label, form.X, form.Y)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, node)
}

func (h *Handler) RemoveNode(c *gin.Context) {
	err := h.service.RemoveNode(c.Request.Context(), identityFromContext(c), c.Param("id"), c.Param("nodeId"))
	if err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

type RenameNodeRequest struct {
	Label string `json:"label" binding:"required,min=1,max=255"`
}

func (h *Handler) RenameNode(c *gin.Context) {
	var form RenameNodeRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	err := h.service.RenameNode(c.Request.Context(), identityFromContext(c), c.Param("id"), c.Param("nodeId"), form.Label)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "node renamed"})
}

type AddEdgeRequest struct {
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`
}

func (h *Handler) AddEdge(c *gin.Context) {
	var form AddEdgeRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	edge, err := h.service.AddEdge(c.Request.Context(), identityFromContext(c), c.Param("id"), form.Source, form.Target)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, edge)
}

func (h *Handler) RemoveEdge(c *gin.Context) {
	err := h.service.RemoveEdge(c.Request.Context(), identityFromContext(c), c.Param("id"), c.Param("edgeId"))
	if err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

type ShareRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Access string `json:"access" binding:"required,oneof=view edit"`
}

func (h *Handler) Share(c *gin.Context) {
	var form ShareRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	grant, err := h.service.ShareDiagram(c.Request.Context(), identityFromContext(c), c.Param("id"), form.Email, form.Access)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

func (h *Handler) Revoke(c *gin.Context) {
	err := h.service.RevokeGrant(c.Request.Context(), identityFromContext(c), c.Param("id"), c.Param("email"))
	if err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListGrants(c *gin.Context) {
	grants, err := h.service.ListGrants(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": grants})
}
