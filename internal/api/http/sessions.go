package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/ampviewer/internal/messaging"
	"github.com/GriffinCanCode/ampviewer/internal/shared/id"
	"github.com/GriffinCanCode/ampviewer/internal/shared/utils"
	"github.com/GriffinCanCode/ampviewer/internal/viewer"
)

// SessionInfo describes one live attachment.
type SessionInfo struct {
	ID          string    `json:"id"`
	Src         string    `json:"src"`
	Publisher   string    `json:"publisher"`
	Origin      string    `json:"origin"`
	Strategy    string    `json:"strategy"`
	State       string    `json:"state"`
	Probes      int       `json:"probes"`
	Established bool      `json:"established"`
	Visibility  string    `json:"visibility"`
	HistoryID   int       `json:"historyId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func sessionInfo(att *viewer.Attachment) SessionInfo {
	s := att.Session
	return SessionInfo{
		ID:          att.ID.String(),
		Src:         att.CacheURL.String(),
		Publisher:   att.CacheURL.PublisherURL(),
		Origin:      s.Origin(),
		Strategy:    s.Strategy().String(),
		State:       s.State().String(),
		Probes:      s.Probes(),
		Established: s.State() == messaging.StateEstablished,
		Visibility:  s.Visibility().State,
		HistoryID:   att.Entry.StateID,
		CreatedAt:   att.CreatedAt,
	}
}

// ListSessions lists live attachments
func (h *Handlers) ListSessions(c *gin.Context) {
	atts := h.viewer.Attachments()
	sessions := make([]SessionInfo, 0, len(atts))
	for _, att := range atts {
		sessions = append(sessions, sessionInfo(att))
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one attachment
func (h *Handlers) GetSession(c *gin.Context) {
	attID := c.Param("id")
	if err := utils.ValidateID(attID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	att, ok := h.viewer.Get(id.AttachmentID(attID))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": viewer.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, sessionInfo(att))
}

// DeleteSession detaches an attachment and tears down its handshake
func (h *Handlers) DeleteSession(c *gin.Context) {
	attID := c.Param("id")
	if err := utils.ValidateID(attID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.viewer.Detach(id.AttachmentID(attID)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      attID,
	})
}
